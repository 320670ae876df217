package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/renewly/renewly/internal/api/dto"
	"github.com/renewly/renewly/internal/domain/invoice"
	"github.com/renewly/renewly/internal/domain/subscription"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/payment"
	"github.com/renewly/renewly/internal/types"
)

// InvoiceService raises and collects invoices. Payment attempts go
// through the configured gateway; manual payments, disputes and
// refunds are supported for support workflows.
type InvoiceService interface {
	GenerateForSubscription(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*invoice.Invoice, error)
	Get(ctx context.Context, id string) (*dto.InvoiceResponse, error)
	List(ctx context.Context, filter *types.InvoiceFilter) (*dto.ListInvoicesResponse, error)

	AttemptPayment(ctx context.Context, id string) (*invoice.Invoice, error)
	RecordManualPayment(ctx context.Context, id string, req *dto.RecordPaymentRequest) (*invoice.Invoice, error)
	CancelInvoice(ctx context.Context, id string) (*invoice.Invoice, error)
	RefundInvoice(ctx context.Context, id string) (*invoice.Invoice, error)
	DisputeInvoice(ctx context.Context, id string, req *dto.DisputeInvoiceRequest) (*invoice.Invoice, error)
	MarkSent(ctx context.Context, id string) (*invoice.Invoice, error)

	// AdvanceDunning starts or escalates dunning on the invoice and
	// reports whether the schedule is now exhausted.
	AdvanceDunning(ctx context.Context, id string) (*invoice.Invoice, bool, error)
}

type invoiceService struct {
	ServiceParams
	events EventService
}

func NewInvoiceService(params ServiceParams) InvoiceService {
	return &invoiceService{
		ServiceParams: params,
		events:        NewEventService(params),
	}
}

func (s *invoiceService) GenerateForSubscription(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*invoice.Invoice, error) {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.IsDeleted() {
		return nil, errSubscriptionDeleted(subscriptionID)
	}

	acct, err := s.AccountRepo.Get(ctx, sub.AccountID)
	if err != nil {
		return nil, err
	}

	lines, err := s.SubRepo.ListProductLines(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	items, billed, subtotal, err := s.buildLineItems(ctx, sub, lines, periodStart, periodEnd, now)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ierr.NewError("nothing to invoice").
			WithHint("The subscription has no billable product lines for this period").
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	discount := sub.DiscountAmount
	taxable := subtotal.Sub(discount)
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	tax := taxable.Mul(sub.TaxPercentage).Div(decimal.NewFromInt(100)).Round(2)
	total := subtotal.Sub(discount).Add(tax).Round(2)

	inv := &invoice.Invoice{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		SubscriptionID: sub.ID,
		AccountID:      sub.AccountID,
		InvoiceNumber:  types.GenerateInvoiceNumber(),
		InvoiceStatus:  types.InvoiceStatusPending,
		Currency:       sub.Currency,
		CustomerName:   acct.Name,
		CustomerEmail:  acct.Email,
		BillingAddress: acct.BillingAddress,
		IssueDate:      now,
		DueDate:        now.AddDate(0, 0, types.DefaultPaymentTermDays),
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Subtotal:       subtotal.Round(2),
		DiscountAmount: discount,
		TaxAmount:      tax,
		TotalAmount:    total,
		AmountPaid:     decimal.Zero,
		DunningStatus:  types.DunningStatusNotRequired,
		BaseModel:      types.GetDefaultBaseModel(ctx, now),
	}
	for _, item := range items {
		item.InvoiceID = inv.ID
	}
	inv.LineItems = items

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.InvoiceRepo.Create(ctx, inv); err != nil {
			return err
		}
		if err := s.InvoiceRepo.CreateLineItems(ctx, items); err != nil {
			return err
		}
		for _, line := range billed {
			start := periodStart
			line.LastBilledDate = &start
			line.UpdatedAt = now
			if err := s.SubRepo.UpdateProductLine(ctx, line); err != nil {
				return err
			}
		}
		_, err := s.events.Record(ctx, RecordEventParams{
			SubscriptionID: sub.ID,
			EventType:      types.EventTypeInvoiceGenerated,
			Description:    "invoice generated",
			EventData: map[string]any{
				"invoice_id":     inv.ID,
				"invoice_number": inv.InvoiceNumber,
				"total_amount":   inv.TotalAmount,
				"due_date":       inv.DueDate,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// buildLineItems produces one item per billable line. Lines added after
// the period start are prorated for the days they were actually active;
// one-time lines that already billed are skipped. The billed lines come
// back so the caller can stamp their last billed date.
func (s *invoiceService) buildLineItems(
	ctx context.Context,
	sub *subscription.Subscription,
	lines []*subscription.ProductLine,
	periodStart, periodEnd time.Time,
	now time.Time,
) ([]*invoice.LineItem, []*subscription.ProductLine, decimal.Decimal, error) {
	items := make([]*invoice.LineItem, 0, len(lines))
	billed := make([]*subscription.ProductLine, 0, len(lines))
	subtotal := decimal.Zero

	for _, line := range lines {
		if line.IsRemoved() {
			if line.RemovalDate == nil || line.RemovalDate.Before(periodStart) {
				continue
			}
		}
		if line.IsInTrial(periodStart) {
			continue
		}
		if !line.IsRecurring && line.LastBilledDate != nil {
			continue
		}

		amount := line.TotalPrice
		prorated := false
		itemStart := periodStart
		itemEnd := periodEnd

		if line.AddedDate.After(periodStart) {
			itemStart = line.AddedDate
			prorated = true
		}
		if line.RemovalDate != nil && line.RemovalDate.Before(periodEnd) {
			itemEnd = *line.RemovalDate
			prorated = true
		}
		if prorated {
			var err error
			amount, err = s.Proration.ProrateRange(line.TotalPrice, sub.DaysInBillingCycle(), itemStart, itemEnd)
			if err != nil {
				return nil, nil, decimal.Zero, err
			}
			if amount.IsZero() {
				continue
			}
		}

		lineID := line.ID
		description := line.ProductName
		if prorated {
			description = fmt.Sprintf("%s (prorated)", line.ProductName)
		}
		item := &invoice.LineItem{
			ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_LINE_ITEM),
			SubscriptionID: sub.ID,
			ProductLineID:  &lineID,
			ProductID:      line.ProductID,
			ProductSKU:     line.ProductSKU,
			Description:    description,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice,
			DiscountAmount: line.DiscountAmount,
			TaxAmount:      amount.Mul(sub.TaxPercentage).Div(decimal.NewFromInt(100)).Round(2),
			Amount:         amount,
			IsProrated:     prorated,
			PeriodStart:    &itemStart,
			PeriodEnd:      &itemEnd,
			BaseModel:      types.GetDefaultBaseModel(ctx, now),
		}
		items = append(items, item)
		billed = append(billed, line)
		subtotal = subtotal.Add(amount)
	}
	return items, billed, subtotal, nil
}

func (s *invoiceService) Get(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.InvoiceRepo.ListLineItems(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.LineItems = items
	return &dto.InvoiceResponse{Invoice: inv}, nil
}

func (s *invoiceService) List(ctx context.Context, filter *types.InvoiceFilter) (*dto.ListInvoicesResponse, error) {
	if filter == nil {
		filter = types.NewInvoiceFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	invoices, err := s.InvoiceRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.InvoiceRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		items = append(items, &dto.InvoiceResponse{Invoice: inv})
	}
	return &dto.ListInvoicesResponse{Items: items, Total: total}, nil
}

func (s *invoiceService) AttemptPayment(ctx context.Context, id string) (*invoice.Invoice, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.InvoiceStatus.IsFinal() {
		return nil, ierr.NewError("invoice is already settled").
			WithHint("This invoice needs no further payment").
			WithReportableDetails(map[string]any{
				"invoice_id": id,
				"status":     inv.InvoiceStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	if inv.IsDisputed {
		return nil, ierr.NewError("invoice is disputed").
			WithHint("Resolve the dispute before collecting payment").
			Mark(ierr.ErrInvalidOperation)
	}

	sub, err := s.SubRepo.Get(ctx, inv.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if inv.PaymentAttempts >= sub.EffectiveMaxRetryAttempts() {
		return nil, ierr.NewError("payment attempts exhausted").
			WithHintf("The invoice already has %d failed payment attempts", inv.PaymentAttempts).
			WithReportableDetails(map[string]any{
				"invoice_id": id,
				"attempts":   inv.PaymentAttempts,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	now := s.Clock.Now()
	inv.PaymentAttempts++
	inv.LastPaymentAttempt = &now

	result, err := s.PaymentGateway.Charge(ctx, payment.ChargeRequest{
		InvoiceID:     inv.ID,
		AccountID:     inv.AccountID,
		Amount:        inv.Balance(),
		Currency:      inv.Currency,
		AttemptNumber: inv.PaymentAttempts,
	})
	if err != nil {
		result = &payment.ChargeResult{Succeeded: false, FailureReason: err.Error()}
	}

	if result.Succeeded {
		return s.settlePayment(ctx, inv, now)
	}
	return s.recordFailedPayment(ctx, inv, result.FailureReason, now)
}

func (s *invoiceService) settlePayment(ctx context.Context, inv *invoice.Invoice, now time.Time) (*invoice.Invoice, error) {
	inv.AmountPaid = inv.TotalAmount
	inv.InvoiceStatus = types.InvoiceStatusPaid
	inv.PaidDate = &now
	inv.LastPaymentError = ""
	inv.NextRetryDate = nil
	if inv.DunningStatus == types.DunningStatusInProgress || inv.DunningStatus == types.DunningStatusGracePeriod {
		inv.DunningStatus = types.DunningStatusResolved
		inv.NextDunningDate = nil
	}
	inv.UpdatedAt = now
	inv.UpdatedBy = types.GetUserID(ctx)

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
			return err
		}
		_, err := s.events.Record(ctx, RecordEventParams{
			SubscriptionID: inv.SubscriptionID,
			EventType:      types.EventTypePaymentSucceeded,
			Description:    "invoice paid",
			EventData: map[string]any{
				"invoice_id":  inv.ID,
				"amount":      inv.AmountPaid,
				"attempts":    inv.PaymentAttempts,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *invoiceService) recordFailedPayment(ctx context.Context, inv *invoice.Invoice, reason string, now time.Time) (*invoice.Invoice, error) {
	inv.InvoiceStatus = types.InvoiceStatusFailed
	inv.LastPaymentError = reason
	inv.NextRetryDate = nil
	if inv.PaymentAttempts <= len(types.PaymentRetryDelays) {
		retry := now.AddDate(0, 0, types.PaymentRetryDelays[inv.PaymentAttempts-1])
		inv.NextRetryDate = &retry
	}
	inv.UpdatedAt = now
	inv.UpdatedBy = types.GetUserID(ctx)

	eventType := types.EventTypePaymentFailed
	if inv.PaymentAttempts > 1 {
		eventType = types.EventTypePaymentRetry
	}

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
			return err
		}
		_, err := s.events.Record(ctx, RecordEventParams{
			SubscriptionID: inv.SubscriptionID,
			EventType:      eventType,
			Description:    "payment attempt failed",
			EventData: map[string]any{
				"invoice_id":      inv.ID,
				"attempts":        inv.PaymentAttempts,
				"failure_reason":  reason,
				"next_retry_date": inv.NextRetryDate,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return inv, ierr.NewError("payment failed").
		WithHintf("Payment attempt %d failed: %s", inv.PaymentAttempts, reason).
		WithReportableDetails(map[string]any{
			"invoice_id": inv.ID,
			"attempts":   inv.PaymentAttempts,
		}).
		Mark(ierr.ErrPaymentFailed)
}

func (s *invoiceService) RecordManualPayment(ctx context.Context, id string, req *dto.RecordPaymentRequest) (*invoice.Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.InvoiceStatus.IsFinal() {
		return nil, ierr.NewError("invoice is already settled").
			WithHint("This invoice needs no further payment").
			Mark(ierr.ErrInvalidOperation)
	}
	if req.Amount.GreaterThan(inv.Balance()) {
		return nil, ierr.NewError("payment exceeds outstanding balance").
			WithHintf("Outstanding balance is %s", inv.Balance()).
			WithReportableDetails(map[string]any{
				"invoice_id": id,
				"balance":    inv.Balance(),
				"amount":     req.Amount,
			}).
			Mark(ierr.ErrValidation)
	}

	now := s.Clock.Now()
	inv.AmountPaid = inv.AmountPaid.Add(req.Amount)
	if inv.Notes == "" {
		inv.Notes = req.Notes
	} else if req.Notes != "" {
		inv.Notes = inv.Notes + "\n" + req.Notes
	}
	fullyPaid := !inv.Balance().IsPositive()
	if fullyPaid {
		inv.InvoiceStatus = types.InvoiceStatusPaid
		inv.PaidDate = &now
		if inv.DunningStatus == types.DunningStatusInProgress || inv.DunningStatus == types.DunningStatusGracePeriod {
			inv.DunningStatus = types.DunningStatusResolved
			inv.NextDunningDate = nil
		}
	}
	inv.UpdatedAt = now
	inv.UpdatedBy = types.GetUserID(ctx)

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
			return err
		}
		if !fullyPaid {
			return nil
		}
		_, err := s.events.Record(ctx, RecordEventParams{
			SubscriptionID: inv.SubscriptionID,
			EventType:      types.EventTypePaymentSucceeded,
			Description:    "invoice settled manually",
			EventData: map[string]any{
				"invoice_id": inv.ID,
				"amount":     inv.AmountPaid,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *invoiceService) CancelInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	return s.moveStatus(ctx, id, types.InvoiceStatusCancelled, "invoice cancelled")
}

func (s *invoiceService) RefundInvoice(ctx context.Context, id string) (*invoice.Invoice, error) {
	return s.moveStatus(ctx, id, types.InvoiceStatusRefunded, "invoice refunded")
}

func (s *invoiceService) moveStatus(ctx context.Context, id string, target types.InvoiceStatus, note string) (*invoice.Invoice, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inv.InvoiceStatus.CanTransitionTo(target) {
		return nil, ierr.NewError("invalid invoice status transition").
			WithHintf("Cannot move invoice from %s to %s", inv.InvoiceStatus, target).
			WithReportableDetails(map[string]any{
				"invoice_id":     id,
				"current_status": inv.InvoiceStatus,
				"target_status":  target,
			}).
			Mark(ierr.ErrInvalidStateTransition)
	}

	now := s.Clock.Now()
	inv.InvoiceStatus = target
	switch target {
	case types.InvoiceStatusCancelled:
		inv.CancelledDate = &now
	case types.InvoiceStatusRefunded:
		inv.RefundedDate = &now
	}
	inv.NextRetryDate = nil
	inv.NextDunningDate = nil
	inv.UpdatedAt = now
	inv.UpdatedBy = types.GetUserID(ctx)

	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}
	s.Logger.Infow(note, "invoice_id", inv.ID, "status", target)
	return inv, nil
}

func (s *invoiceService) DisputeInvoice(ctx context.Context, id string, req *dto.DisputeInvoiceRequest) (*invoice.Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.InvoiceStatus.IsFinal() {
		return nil, ierr.NewError("settled invoices cannot be disputed").
			WithHint("Only open invoices can be disputed").
			Mark(ierr.ErrInvalidOperation)
	}

	now := s.Clock.Now()
	inv.IsDisputed = true
	inv.DisputeNotes = req.Notes
	// Disputes pause collection
	inv.NextRetryDate = nil
	inv.NextDunningDate = nil
	inv.UpdatedAt = now
	inv.UpdatedBy = types.GetUserID(ctx)

	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *invoiceService) MarkSent(ctx context.Context, id string) (*invoice.Invoice, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.IsSent {
		return inv, nil
	}

	now := s.Clock.Now()
	inv.IsSent = true
	inv.SentDate = &now
	inv.UpdatedAt = now
	inv.UpdatedBy = types.GetUserID(ctx)

	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *invoiceService) AdvanceDunning(ctx context.Context, id string) (*invoice.Invoice, bool, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	now := s.Clock.Now()
	switch {
	case inv.ShouldStartDunning(now):
		inv.DunningStatus = types.DunningStatusInProgress
		inv.DunningLevel = 0
	case inv.DunningStatus == types.DunningStatusInProgress || inv.DunningStatus == types.DunningStatusGracePeriod:
		if inv.NextDunningDate == nil || inv.NextDunningDate.After(now) {
			return inv, false, nil
		}
		inv.DunningLevel++
		inv.LastDunningDate = &now
	default:
		return nil, false, ierr.NewError("invoice is not eligible for dunning").
			WithHint("Dunning applies to overdue invoices with failed payment attempts").
			WithReportableDetails(map[string]any{
				"invoice_id":     id,
				"dunning_status": inv.DunningStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	exhausted := inv.DunningExhausted()
	if exhausted {
		inv.DunningStatus = types.DunningStatusFailed
		inv.NextDunningDate = nil
	} else {
		inv.NextDunningDate = inv.ComputeNextDunningDate()
	}
	inv.UpdatedAt = now
	inv.UpdatedBy = types.GetUserID(ctx)

	if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
		return nil, false, err
	}

	s.Logger.Infow("dunning advanced",
		"invoice_id", inv.ID,
		"level", inv.DunningLevel,
		"status", inv.DunningStatus,
		"next_dunning_date", inv.NextDunningDate,
	)
	return inv, exhausted, nil
}
