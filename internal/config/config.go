package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	Billing    BillingConfig    `validate:"required"`
	Webhook    WebhookConfig
	Payment    PaymentConfig
}

type DeploymentConfig struct {
	Mode string `validate:"required,oneof=development production"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level string `validate:"required"`
}

type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// BillingConfig tunes the recurring billing sweep
type BillingConfig struct {
	SweepBatchSize int `validate:"required,min=1"`
	SweepWorkers   int `validate:"required,min=1"`
}

// WebhookConfig configures outbound event delivery
type WebhookConfig struct {
	Endpoint       string
	SigningSecret  string
	RequestTimeout time.Duration
	MaxRetries     int
	MaxElapsedTime time.Duration
}

// PaymentConfig bounds calls to the payment gateway
type PaymentConfig struct {
	ChargeTimeout time.Duration
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/renewly")

	v.SetEnvPrefix("RENEWLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	config := GetDefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts or other non-web applications
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: "development"},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: "debug"},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "renewly",
			DBName:          "renewly",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Billing: BillingConfig{
			SweepBatchSize: 100,
			SweepWorkers:   4,
		},
		Webhook: WebhookConfig{
			RequestTimeout: 10 * time.Second,
			MaxRetries:     5,
			MaxElapsedTime: 2 * time.Minute,
		},
		Payment: PaymentConfig{
			ChargeTimeout: 30 * time.Second,
		},
	}
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User, c.Password, c.DBName, c.Host, c.Port, c.SSLMode,
	)
}
