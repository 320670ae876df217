package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/renewly/renewly/internal/api/dto"
	"github.com/renewly/renewly/internal/domain/subscription"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/types"
)

// ProductLineService manages the products attached to a subscription.
// Adds and removes recompute the subscription's monetary snapshot and
// append modification events.
type ProductLineService interface {
	Add(ctx context.Context, subscriptionID string, req *dto.AddProductLineRequest) (*subscription.ProductLine, error)
	Update(ctx context.Context, subscriptionID, lineID string, req *dto.UpdateProductLineRequest) (*subscription.ProductLine, error)
	Remove(ctx context.Context, subscriptionID, lineID string) error
	List(ctx context.Context, subscriptionID string) ([]*subscription.ProductLine, error)

	// ProratedCharge returns the charge for the remaining days of the
	// current billing cycle if the line were added now.
	ProratedCharge(ctx context.Context, subscriptionID string, amount decimal.Decimal) (decimal.Decimal, error)
}

type productLineService struct {
	ServiceParams
	events EventService
}

func NewProductLineService(params ServiceParams) ProductLineService {
	return &productLineService{
		ServiceParams: params,
		events:        NewEventService(params),
	}
}

func (s *productLineService) Add(ctx context.Context, subscriptionID string, req *dto.AddProductLineRequest) (*subscription.ProductLine, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.getMutableSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	prod, err := s.ProductRepo.Get(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !prod.IsAvailable() {
		return nil, ierr.NewError("product is not available").
			WithHint("This product cannot be added to subscriptions").
			WithReportableDetails(map[string]any{
				"product_id": prod.ID,
				"sku":        prod.SKU,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	// Re-adding a product that is already attached and not removed is
	// rejected; idempotent retries should update the existing line.
	existing, err := s.SubRepo.ListProductLines(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	for _, line := range existing {
		if line.ProductID == req.ProductID && !line.IsRemoved() {
			return nil, ierr.NewError("product already attached").
				WithHint("This product is already on the subscription").
				WithReportableDetails(map[string]any{
					"subscription_id": subscriptionID,
					"product_id":      req.ProductID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	now := s.Clock.Now()
	line := &subscription.ProductLine{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PRODUCT_LINE),
		SubscriptionID: sub.ID,
		ProductID:      prod.ID,
		ProductName:    prod.Name,
		ProductSKU:     prod.SKU,
		UnitPrice:      prod.UnitPrice,
		Quantity:       req.Quantity,
		DiscountAmount: req.DiscountAmount,
		AddedDate:      now,
		IsRecurring:    !req.OneTime,
		TrialDays:      req.TrialDays,
		UsageLimit:     req.UsageLimit,
		BaseModel:      types.GetDefaultBaseModel(ctx, now),
	}
	if req.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, req.TrialDays)
		line.TrialEndDate = &trialEnd
	}
	line.RecomputeTotal()

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SubRepo.CreateProductLine(ctx, line); err != nil {
			return err
		}
		if err := s.refreshTotals(ctx, sub, now); err != nil {
			return err
		}
		_, err := s.events.Record(ctx, RecordEventParams{
			SubscriptionID: sub.ID,
			EventType:      types.EventTypeProductAdded,
			Description:    "product added to subscription",
			EventData: map[string]any{
				"product_line_id": line.ID,
				"product_id":      line.ProductID,
				"product_sku":     line.ProductSKU,
				"quantity":        line.Quantity,
				"total_price":     line.TotalPrice,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (s *productLineService) Update(ctx context.Context, subscriptionID, lineID string, req *dto.UpdateProductLineRequest) (*subscription.ProductLine, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.getMutableSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	line, err := s.getAttachedLine(ctx, subscriptionID, lineID)
	if err != nil {
		return nil, err
	}

	previous := *line
	if req.Quantity != nil {
		line.Quantity = *req.Quantity
	}
	if req.DiscountAmount != nil {
		line.DiscountAmount = *req.DiscountAmount
	}
	if req.UsageLimit != nil {
		line.UsageLimit = req.UsageLimit
	}
	line.RecomputeTotal()

	now := s.Clock.Now()
	line.UpdatedAt = now
	line.UpdatedBy = types.GetUserID(ctx)

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SubRepo.UpdateProductLine(ctx, line); err != nil {
			return err
		}
		if err := s.refreshTotals(ctx, sub, now); err != nil {
			return err
		}
		if line.TotalPrice.Equal(previous.TotalPrice) {
			return nil
		}
		eventType := types.EventTypeUpgraded
		if line.TotalPrice.LessThan(previous.TotalPrice) {
			eventType = types.EventTypeDowngraded
		}
		_, err := s.events.Record(ctx, RecordEventParams{
			SubscriptionID: sub.ID,
			EventType:      eventType,
			Description:    "product line changed",
			EventData: map[string]any{
				"product_line_id": line.ID,
				"previous_total":  previous.TotalPrice,
				"new_total":       line.TotalPrice,
			},
			PreviousValues: &previous,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return line, nil
}

// Remove soft-removes the line by stamping a removal date. The line
// stays on record for invoicing history.
func (s *productLineService) Remove(ctx context.Context, subscriptionID, lineID string) error {
	sub, err := s.getMutableSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	line, err := s.getAttachedLine(ctx, subscriptionID, lineID)
	if err != nil {
		return err
	}

	now := s.Clock.Now()
	line.RemovalDate = &now
	line.UpdatedAt = now
	line.UpdatedBy = types.GetUserID(ctx)

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SubRepo.UpdateProductLine(ctx, line); err != nil {
			return err
		}
		if err := s.refreshTotals(ctx, sub, now); err != nil {
			return err
		}
		_, err := s.events.Record(ctx, RecordEventParams{
			SubscriptionID: sub.ID,
			EventType:      types.EventTypeProductRemoved,
			Description:    "product removed from subscription",
			EventData: map[string]any{
				"product_line_id": line.ID,
				"product_id":      line.ProductID,
				"product_sku":     line.ProductSKU,
			},
		})
		return err
	})
}

func (s *productLineService) List(ctx context.Context, subscriptionID string) ([]*subscription.ProductLine, error) {
	if _, err := s.SubRepo.Get(ctx, subscriptionID); err != nil {
		return nil, err
	}
	return s.SubRepo.ListProductLines(ctx, subscriptionID)
}

func (s *productLineService) ProratedCharge(ctx context.Context, subscriptionID string, amount decimal.Decimal) (decimal.Decimal, error) {
	sub, err := s.SubRepo.Get(ctx, subscriptionID)
	if err != nil {
		return decimal.Zero, err
	}
	if sub.NextBillingDate == nil {
		return decimal.Zero, nil
	}
	now := s.Clock.Now()
	if !sub.NextBillingDate.After(now) {
		return decimal.Zero, nil
	}
	return s.Proration.ProrateRange(amount, sub.DaysInBillingCycle(), now, *sub.NextBillingDate)
}

func (s *productLineService) getMutableSubscription(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.IsDeleted() {
		return nil, errSubscriptionDeleted(id)
	}
	if sub.SubscriptionStatus.IsTerminal() {
		return nil, ierr.NewError("subscription is in a terminal state").
			WithHint("Cancelled or expired subscriptions cannot be modified").
			WithReportableDetails(map[string]any{
				"subscription_id": id,
				"status":          sub.SubscriptionStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return sub, nil
}

func (s *productLineService) getAttachedLine(ctx context.Context, subscriptionID, lineID string) (*subscription.ProductLine, error) {
	line, err := s.SubRepo.GetProductLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if line.SubscriptionID != subscriptionID {
		return nil, ierr.NewError("product line belongs to another subscription").
			WithHint("The product line is not attached to this subscription").
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
				"product_line_id": lineID,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	if line.IsRemoved() {
		return nil, ierr.NewError("product line already removed").
			WithHint("This product line has already been removed").
			WithReportableDetails(map[string]any{
				"product_line_id": lineID,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return line, nil
}

// refreshTotals rereads the lines and persists the recomputed snapshot
func (s *productLineService) refreshTotals(ctx context.Context, sub *subscription.Subscription, now time.Time) error {
	lines, err := s.SubRepo.ListProductLines(ctx, sub.ID)
	if err != nil {
		return err
	}
	sub.RecomputeTotals(lines)
	sub.UpdatedAt = now
	sub.UpdatedBy = types.GetUserID(ctx)
	return s.SubRepo.Update(ctx, sub)
}
