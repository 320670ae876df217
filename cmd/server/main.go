package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/renewly/renewly/internal/api/cron"
	v1 "github.com/renewly/renewly/internal/api/v1"
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
	"github.com/renewly/renewly/internal/repository"
	"github.com/renewly/renewly/internal/router"
	"github.com/renewly/renewly/internal/service"
	"github.com/renewly/renewly/internal/validator"
	"github.com/renewly/renewly/internal/webhook"
)

func init() {
	// Billing date arithmetic assumes UTC everywhere
	time.Local = time.UTC

	_ = godotenv.Load()
	validator.NewValidator()
}

func main() {
	fx.New(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			clock.New,
			postgres.NewClient,

			repository.NewSubscriptionRepository,
			repository.NewInvoiceRepository,
			repository.NewEventRepository,
			repository.NewAccountRepository,
			repository.NewProductRepository,

			payment.NewSandboxGateway,
			webhook.NewDispatcher,
			proration.NewCalculator,

			newServiceParams,
			service.NewSubscriptionService,
			service.NewHierarchyService,
			service.NewProductLineService,
			service.NewInvoiceService,
			service.NewBillingService,
			service.NewEventService,

			v1.NewSubscriptionHandler,
			v1.NewInvoiceHandler,
			v1.NewEventHandler,
			cron.NewBillingHandler,

			newRouter,
		),
		fx.Invoke(startServer),
	).Run()
}

func newServiceParams(
	log *logger.Logger,
	cfg *config.Configuration,
	db postgres.IClient,
	clk clock.Clock,
	subRepo subscription.Repository,
	invoiceRepo invoice.Repository,
	eventRepo events.Repository,
	accountRepo account.Repository,
	productRepo product.Repository,
	gateway payment.Gateway,
	dispatcher webhook.Dispatcher,
	prorate *proration.Calculator,
) service.ServiceParams {
	return service.ServiceParams{
		Logger:            log,
		Config:            cfg,
		DB:                db,
		Clock:             clk,
		SubRepo:           subRepo,
		InvoiceRepo:       invoiceRepo,
		EventRepo:         eventRepo,
		AccountRepo:       accountRepo,
		ProductRepo:       productRepo,
		PaymentGateway:    gateway,
		WebhookDispatcher: dispatcher,
		Proration:         prorate,
	}
}

func newRouter(
	cfg *config.Configuration,
	subscriptionHandler *v1.SubscriptionHandler,
	invoiceHandler *v1.InvoiceHandler,
	eventHandler *v1.EventHandler,
	cronBillingHandler *cron.BillingHandler,
	log *logger.Logger,
) *gin.Engine {
	return router.New(cfg, router.Handlers{
		Subscription: subscriptionHandler,
		Invoice:      invoiceHandler,
		Event:        eventHandler,
		CronBilling:  cronBillingHandler,
	}, log)
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	engine *gin.Engine,
	log *logger.Logger,
) {
	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting server", "address", cfg.Server.Address)
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("server failed: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	})
}
