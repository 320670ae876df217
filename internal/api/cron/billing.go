package cron

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/service"
)

// BillingHandler exposes the recurring sweeps as cron endpoints. An
// external scheduler hits these on its own cadence; each run is
// idempotent thanks to the billing-date claims.
type BillingHandler struct {
	billing service.BillingService
	events  service.EventService
	log     *logger.Logger
}

func NewBillingHandler(billing service.BillingService, events service.EventService, log *logger.Logger) *BillingHandler {
	return &BillingHandler{billing: billing, events: events, log: log}
}

// GenerateInvoices godoc
// @Summary Generate invoices for due subscriptions
// @Router /cron/billing/invoices [post]
func (h *BillingHandler) GenerateInvoices(c *gin.Context) {
	resp, err := h.billing.GenerateDueInvoices(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ProcessPaymentRetries godoc
// @Summary Retry payment on failed invoices whose retry date is due
// @Router /cron/billing/retries [post]
func (h *BillingHandler) ProcessPaymentRetries(c *gin.Context) {
	resp, err := h.billing.ProcessPaymentRetries(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ProcessDunning godoc
// @Summary Escalate dunning on overdue invoices
// @Router /cron/billing/dunning [post]
func (h *BillingHandler) ProcessDunning(c *gin.Context) {
	resp, err := h.billing.ProcessDunning(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ProcessExpirations godoc
// @Summary Expire subscriptions past their end date
// @Router /cron/billing/expirations [post]
func (h *BillingHandler) ProcessExpirations(c *gin.Context) {
	resp, err := h.billing.ProcessExpirations(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeliverWebhooks godoc
// @Summary Deliver pending event webhooks
// @Router /cron/webhooks/deliver [post]
func (h *BillingHandler) DeliverWebhooks(c *gin.Context) {
	sent, err := h.events.DeliverPendingWebhooks(c.Request.Context(), 100)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": sent})
}
