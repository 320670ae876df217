package service

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/renewly/renewly/internal/api/dto"
	"github.com/renewly/renewly/internal/domain/subscription"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/types"
)

// BillingService runs the recurring sweeps: invoice generation for due
// subscriptions, dunning escalation for overdue invoices, and
// expiration of subscriptions whose end date has passed. Sweeps are
// safe to run concurrently; workers claim subscriptions with a
// compare-and-swap on the billing date.
type BillingService interface {
	GenerateDueInvoices(ctx context.Context) (*dto.BillingSweepResponse, error)
	ProcessPaymentRetries(ctx context.Context) (*dto.BillingSweepResponse, error)
	ProcessDunning(ctx context.Context) (*dto.BillingSweepResponse, error)
	ProcessExpirations(ctx context.Context) (*dto.BillingSweepResponse, error)
}

type billingService struct {
	ServiceParams
	invoices      InvoiceService
	subscriptions SubscriptionService
	events        EventService
}

func NewBillingService(params ServiceParams) BillingService {
	return &billingService{
		ServiceParams: params,
		invoices:      NewInvoiceService(params),
		subscriptions: NewSubscriptionService(params),
		events:        NewEventService(params),
	}
}

// sweepCounters accumulates results across workers
type sweepCounters struct {
	mu        sync.Mutex
	processed int
	succeeded int
	failed    int
	skipped   int
	errors    []string
}

func (c *sweepCounters) response() *dto.BillingSweepResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &dto.BillingSweepResponse{
		Processed: c.processed,
		Succeeded: c.succeeded,
		Failed:    c.failed,
		Skipped:   c.skipped,
		Errors:    c.errors,
	}
}

func (c *sweepCounters) success() {
	c.mu.Lock()
	c.processed++
	c.succeeded++
	c.mu.Unlock()
}

func (c *sweepCounters) failure(err error) {
	c.mu.Lock()
	c.processed++
	c.failed++
	c.errors = append(c.errors, err.Error())
	c.mu.Unlock()
}

func (c *sweepCounters) skip() {
	c.mu.Lock()
	c.processed++
	c.skipped++
	c.mu.Unlock()
}

func (s *billingService) GenerateDueInvoices(ctx context.Context) (*dto.BillingSweepResponse, error) {
	now := s.Clock.Now()
	due, err := s.SubRepo.ListDueForBilling(ctx, now, s.Config.Billing.SweepBatchSize)
	if err != nil {
		return nil, err
	}

	counters := &sweepCounters{}
	workers := pool.New().WithMaxGoroutines(s.Config.Billing.SweepWorkers)

	for _, sub := range due {
		sub := sub
		workers.Go(func() {
			if err := s.billSubscription(ctx, sub); err != nil {
				if ierr.IsConflict(err) {
					counters.skip()
					return
				}
				s.Logger.Errorw("billing sweep item failed",
					"subscription_id", sub.ID,
					"error", err,
				)
				counters.failure(err)
				return
			}
			counters.success()
		})
	}
	workers.Wait()

	resp := counters.response()
	s.Logger.Infow("billing sweep finished",
		"processed", resp.Processed,
		"succeeded", resp.Succeeded,
		"failed", resp.Failed,
		"skipped", resp.Skipped,
	)
	return resp, nil
}

// billSubscription claims one subscription and raises the invoice for
// the period that just ended. A lost claim means another worker got
// there first and is reported as a conflict.
func (s *billingService) billSubscription(ctx context.Context, sub *subscription.Subscription) error {
	now := s.Clock.Now()
	if sub.NextBillingDate == nil || !sub.IsBillable(now) {
		return ierr.NewError("subscription no longer billable").
			Mark(ierr.ErrConflict)
	}

	periodStart := *sub.NextBillingDate
	periodEnd, err := types.NextBillingDate(periodStart, sub.BillingCycle, sub.BillingDayOfMonth, sub.CustomCycleDays, now)
	if err != nil {
		return err
	}

	claimed, err := s.SubRepo.ClaimForBilling(ctx, sub.ID, periodStart, periodEnd)
	if err != nil {
		return err
	}
	if !claimed {
		return ierr.NewError("subscription claimed by another worker").
			Mark(ierr.ErrConflict)
	}

	inv, err := s.invoices.GenerateForSubscription(ctx, sub.ID, periodStart, periodEnd)
	if err != nil {
		return err
	}

	if _, err := s.invoices.AttemptPayment(ctx, inv.ID); err != nil {
		// A declined charge is handled by the retry/dunning pipeline;
		// the sweep itself succeeded in raising the invoice.
		if ierr.IsPaymentFailed(err) {
			return nil
		}
		return err
	}
	return nil
}

// ProcessPaymentRetries recharges failed invoices whose scheduled
// retry date has arrived. A declined charge pushes the retry date
// forward (or exhausts it), so each invoice is picked up at most once
// per sweep.
func (s *billingService) ProcessPaymentRetries(ctx context.Context) (*dto.BillingSweepResponse, error) {
	now := s.Clock.Now()
	due, err := s.InvoiceRepo.ListRetryDue(ctx, now, s.Config.Billing.SweepBatchSize)
	if err != nil {
		return nil, err
	}

	counters := &sweepCounters{}
	for _, inv := range due {
		if _, err := s.invoices.AttemptPayment(ctx, inv.ID); err != nil {
			if ierr.IsPaymentFailed(err) {
				// Declined again; the retry schedule moved along.
				counters.success()
				continue
			}
			if ierr.IsInvalidOperation(err) {
				counters.skip()
				continue
			}
			counters.failure(err)
			continue
		}
		counters.success()
	}

	resp := counters.response()
	s.Logger.Infow("payment retry sweep finished",
		"processed", resp.Processed,
		"succeeded", resp.Succeeded,
		"failed", resp.Failed,
		"skipped", resp.Skipped,
	)
	return resp, nil
}

func (s *billingService) ProcessDunning(ctx context.Context) (*dto.BillingSweepResponse, error) {
	now := s.Clock.Now()
	due, err := s.InvoiceRepo.ListDunningDue(ctx, now, s.Config.Billing.SweepBatchSize)
	if err != nil {
		return nil, err
	}

	counters := &sweepCounters{}
	for _, inv := range due {
		if inv.IsDisputed {
			counters.skip()
			continue
		}

		updated, exhausted, err := s.invoices.AdvanceDunning(ctx, inv.ID)
		if err != nil {
			if ierr.IsInvalidOperation(err) {
				counters.skip()
				continue
			}
			counters.failure(err)
			continue
		}

		if exhausted {
			if err := s.suspendForNonPayment(ctx, updated.SubscriptionID); err != nil {
				counters.failure(err)
				continue
			}
		}
		counters.success()
	}

	resp := counters.response()
	s.Logger.Infow("dunning sweep finished",
		"processed", resp.Processed,
		"succeeded", resp.Succeeded,
		"failed", resp.Failed,
		"skipped", resp.Skipped,
	)
	return resp, nil
}

// suspendForNonPayment cancels the subscription after dunning runs out
func (s *billingService) suspendForNonPayment(ctx context.Context, subscriptionID string) error {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if !sub.CanBeCancelled() {
		// Already cancelled or expired, nothing left to do
		return nil
	}

	now := s.Clock.Now()
	_, err = s.subscriptions.Cancel(ctx, subscriptionID, &dto.CancelSubscriptionRequest{
		Reason:        types.CancellationReasonNonPayment,
		EffectiveDate: &now,
		Notes:         "dunning schedule exhausted",
	})
	return err
}

func (s *billingService) ProcessExpirations(ctx context.Context) (*dto.BillingSweepResponse, error) {
	now := s.Clock.Now()
	expiring, err := s.SubRepo.ListExpiring(ctx, now, s.Config.Billing.SweepBatchSize)
	if err != nil {
		return nil, err
	}

	counters := &sweepCounters{}
	for _, sub := range expiring {
		if sub.AutoRenew {
			counters.skip()
			continue
		}
		if _, err := s.subscriptions.Expire(ctx, sub.ID); err != nil {
			if ierr.IsInvalidStateTransition(err) {
				counters.skip()
				continue
			}
			counters.failure(err)
			continue
		}
		counters.success()
	}

	resp := counters.response()
	s.Logger.Infow("expiration sweep finished",
		"processed", resp.Processed,
		"succeeded", resp.Succeeded,
		"failed", resp.Failed,
		"skipped", resp.Skipped,
	)
	return resp, nil
}
