package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/renewly/renewly/internal/api/cron"
	v1 "github.com/renewly/renewly/internal/api/v1"
	"github.com/renewly/renewly/internal/config"
	"github.com/renewly/renewly/internal/logger"
)

// Handlers groups the HTTP handlers wired into the router
type Handlers struct {
	Subscription *v1.SubscriptionHandler
	Invoice      *v1.InvoiceHandler
	Event        *v1.EventHandler
	CronBilling  *cron.BillingHandler
}

func New(cfg *config.Configuration, handlers Handlers, log *logger.Logger) *gin.Engine {
	if cfg.Deployment.Mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestContext())
	engine.Use(ErrorHandler(log))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/v1")
	{
		subs := api.Group("/subscriptions")
		{
			subs.POST("", handlers.Subscription.CreateSubscription)
			subs.GET("", handlers.Subscription.ListSubscriptions)
			subs.GET("/:id", handlers.Subscription.GetSubscription)
			subs.PUT("/:id", handlers.Subscription.UpdateSubscription)
			subs.DELETE("/:id", handlers.Subscription.DeleteSubscription)

			subs.POST("/:id/activate", handlers.Subscription.ActivateSubscription)
			subs.POST("/:id/pause", handlers.Subscription.PauseSubscription)
			subs.POST("/:id/resume", handlers.Subscription.ResumeSubscription)
			subs.POST("/:id/cancel", handlers.Subscription.CancelSubscription)

			subs.POST("/:id/parent", handlers.Subscription.LinkParent)
			subs.DELETE("/:id/parent", handlers.Subscription.UnlinkParent)
			subs.GET("/:id/parent", handlers.Subscription.GetParent)
			subs.GET("/:id/children", handlers.Subscription.GetChildren)
			subs.GET("/:id/hierarchy/validate", handlers.Subscription.ValidateHierarchy)

			subs.POST("/:id/products", handlers.Subscription.AddProductLine)
			subs.GET("/:id/products", handlers.Subscription.ListProductLines)
			subs.PUT("/:id/products/:lineId", handlers.Subscription.UpdateProductLine)
			subs.DELETE("/:id/products/:lineId", handlers.Subscription.RemoveProductLine)
		}

		invoices := api.Group("/invoices")
		{
			invoices.GET("", handlers.Invoice.ListInvoices)
			invoices.GET("/:id", handlers.Invoice.GetInvoice)
			invoices.POST("/:id/pay", handlers.Invoice.AttemptPayment)
			invoices.POST("/:id/payments", handlers.Invoice.RecordPayment)
			invoices.POST("/:id/cancel", handlers.Invoice.CancelInvoice)
			invoices.POST("/:id/refund", handlers.Invoice.RefundInvoice)
			invoices.POST("/:id/dispute", handlers.Invoice.DisputeInvoice)
			invoices.POST("/:id/send", handlers.Invoice.MarkSent)
		}

		events := api.Group("/events")
		{
			events.GET("", handlers.Event.ListEvents)
			events.GET("/:id", handlers.Event.GetEvent)
			events.POST("/:id/notify", handlers.Event.MarkNotified)
		}
	}

	jobs := engine.Group("/cron")
	{
		jobs.POST("/billing/invoices", handlers.CronBilling.GenerateInvoices)
		jobs.POST("/billing/retries", handlers.CronBilling.ProcessPaymentRetries)
		jobs.POST("/billing/dunning", handlers.CronBilling.ProcessDunning)
		jobs.POST("/billing/expirations", handlers.CronBilling.ProcessExpirations)
		jobs.POST("/webhooks/deliver", handlers.CronBilling.DeliverWebhooks)
	}

	return engine
}
