package service

import (
	"github.com/renewly/renewly/internal/clock"
	"github.com/renewly/renewly/internal/config"
	"github.com/renewly/renewly/internal/domain/account"
	"github.com/renewly/renewly/internal/domain/events"
	"github.com/renewly/renewly/internal/domain/invoice"
	"github.com/renewly/renewly/internal/domain/product"
	"github.com/renewly/renewly/internal/domain/proration"
	"github.com/renewly/renewly/internal/domain/subscription"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/payment"
	"github.com/renewly/renewly/internal/postgres"
	"github.com/renewly/renewly/internal/webhook"
)

// ServiceParams bundles the dependencies shared by all services so
// constructors stay stable as the dependency list grows.
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient
	Clock  clock.Clock

	// Repositories
	SubRepo     subscription.Repository
	InvoiceRepo invoice.Repository
	EventRepo   events.Repository
	AccountRepo account.Repository
	ProductRepo product.Repository

	// Integrations
	PaymentGateway    payment.Gateway
	WebhookDispatcher webhook.Dispatcher
	Proration         *proration.Calculator
}
