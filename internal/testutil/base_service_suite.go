package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/renewly/renewly/internal/config"
	"github.com/renewly/renewly/internal/domain/account"
	"github.com/renewly/renewly/internal/domain/events"
	"github.com/renewly/renewly/internal/domain/invoice"
	"github.com/renewly/renewly/internal/domain/product"
	"github.com/renewly/renewly/internal/domain/subscription"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/postgres"
	"github.com/renewly/renewly/internal/types"
	"github.com/renewly/renewly/internal/validator"
)

// Stores holds all the repository interfaces for testing
type Stores struct {
	SubscriptionRepo subscription.Repository
	InvoiceRepo      invoice.Repository
	EventRepo        events.Repository
	AccountRepo      account.Repository
	ProductRepo      product.Repository
}

// BaseServiceTestSuite provides common functionality for all service
// test suites: in-memory stores, a fake clock, and mock integrations.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx     context.Context
	stores  Stores
	db      postgres.IClient
	logger  *logger.Logger
	config  *config.Configuration
	clock   *FakeClock
	gateway *MockPaymentGateway
	webhook *MockWebhookDispatcher
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	validator.NewValidator()

	cfg := config.GetDefaultConfig()
	s.config = cfg

	var err error
	s.logger, err = logger.NewLogger(cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.setupContext()
	s.setupStores()
	s.clock = NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s.gateway = NewMockPaymentGateway()
	s.webhook = NewMockWebhookDispatcher()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.ClearStores()
}

func (s *BaseServiceTestSuite) setupContext() {
	s.ctx = context.Background()
	s.ctx = context.WithValue(s.ctx, types.CtxUserID, types.DefaultUserID)
	s.ctx = context.WithValue(s.ctx, types.CtxRequestID, types.GenerateUUID())
	s.ctx = context.WithValue(s.ctx, types.CtxEventSource, "api")
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		SubscriptionRepo: NewInMemorySubscriptionStore(),
		InvoiceRepo:      NewInMemoryInvoiceStore(),
		EventRepo:        NewInMemoryEventStore(),
		AccountRepo:      NewInMemoryAccountStore(),
		ProductRepo:      NewInMemoryProductStore(),
	}
	s.db = NewMockPostgresClient(s.logger)
}

func (s *BaseServiceTestSuite) ClearStores() {
	s.stores.SubscriptionRepo.(*InMemorySubscriptionStore).Clear()
	s.stores.InvoiceRepo.(*InMemoryInvoiceStore).Clear()
	s.stores.EventRepo.(*InMemoryEventStore).Clear()
	s.stores.AccountRepo.(*InMemoryAccountStore).Clear()
	s.stores.ProductRepo.(*InMemoryProductStore).Clear()
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns all test repositories
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetDB returns the test database client
func (s *BaseServiceTestSuite) GetDB() postgres.IClient {
	return s.db
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetClock returns the controllable test clock
func (s *BaseServiceTestSuite) GetClock() *FakeClock {
	return s.clock
}

// GetPaymentGateway returns the mock payment gateway
func (s *BaseServiceTestSuite) GetPaymentGateway() *MockPaymentGateway {
	return s.gateway
}

// GetWebhookDispatcher returns the mock webhook dispatcher
func (s *BaseServiceTestSuite) GetWebhookDispatcher() *MockWebhookDispatcher {
	return s.webhook
}

// GetNow returns the current fake-clock time
func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.clock.Now()
}

// GetUUID returns a new UUID string
func (s *BaseServiceTestSuite) GetUUID() string {
	return types.GenerateUUID()
}
