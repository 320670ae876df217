package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/renewly/renewly/internal/config"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/types"
)

// ChargeRequest describes one payment attempt against an invoice
type ChargeRequest struct {
	InvoiceID     string
	AccountID     string
	Amount        decimal.Decimal
	Currency      string
	AttemptNumber int
}

// ChargeResult is the gateway's answer to a charge attempt. A declined
// charge is a result, not an error; errors mean the attempt itself
// could not be made.
type ChargeResult struct {
	TransactionID string
	Succeeded     bool
	FailureReason string
}

// Gateway processes payments. Implementations must respect the context
// deadline; charges are bounded by the configured timeout.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

type sandboxGateway struct {
	timeout time.Duration
	logger  *logger.Logger
}

// NewSandboxGateway returns a gateway that approves every well-formed
// charge. It stands in until a real processor integration is wired.
func NewSandboxGateway(cfg *config.Configuration, log *logger.Logger) Gateway {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Payment.ChargeTimeout > 0 {
		timeout = cfg.Payment.ChargeTimeout
	}
	return &sandboxGateway{timeout: timeout, logger: log}
}

func (g *sandboxGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if !req.Amount.IsPositive() {
		return nil, ierr.NewError("charge amount must be positive").
			WithHint("Charge amount must be greater than zero").
			WithReportableDetails(map[string]any{
				"invoice_id": req.InvoiceID,
				"amount":     req.Amount,
			}).
			Mark(ierr.ErrValidation)
	}

	select {
	case <-ctx.Done():
		return nil, ierr.WithError(ctx.Err()).
			WithHint("Payment gateway timed out").
			Mark(ierr.ErrPaymentFailed)
	default:
	}

	g.logger.Debugw("sandbox gateway approving charge",
		"invoice_id", req.InvoiceID,
		"amount", req.Amount,
		"attempt", req.AttemptNumber,
	)

	return &ChargeResult{
		TransactionID: types.GenerateUUIDWithPrefix("txn"),
		Succeeded:     true,
	}, nil
}
