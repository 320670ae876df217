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

// SubscriptionService owns the subscription lifecycle. Every state
// change runs in a transaction and appends an audit event; failed
// transitions append an error event instead.
type SubscriptionService interface {
	Create(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error)
	Get(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	Update(ctx context.Context, id string, req *dto.UpdateSubscriptionRequest) (*dto.SubscriptionResponse, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter *types.SubscriptionFilter) (*dto.ListSubscriptionsResponse, error)

	Activate(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	Pause(ctx context.Context, id string, req *dto.PauseSubscriptionRequest) (*dto.SubscriptionResponse, error)
	Resume(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	Cancel(ctx context.Context, id string, req *dto.CancelSubscriptionRequest) (*dto.SubscriptionResponse, error)
	Expire(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
}

type subscriptionService struct {
	ServiceParams
	events EventService
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
		events:        NewEventService(params),
	}
}

func (s *subscriptionService) Create(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	acct, err := s.AccountRepo.Get(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.IsDeleted() {
		return nil, ierr.NewError("account is deleted").
			WithHint("Cannot create a subscription for a deleted account").
			WithReportableDetails(map[string]any{
				"account_id": req.AccountID,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	now := s.Clock.Now()
	sub := req.ToSubscription(ctx, now)

	if sub.ParentSubscriptionID != nil {
		parent, err := s.SubRepo.Get(ctx, *sub.ParentSubscriptionID)
		if err != nil {
			return nil, err
		}
		if err := validateParentEligibility(parent); err != nil {
			return nil, err
		}
	}

	var lines []*subscription.ProductLine
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SubRepo.Create(ctx, sub); err != nil {
			return err
		}

		for i := range req.ProductLines {
			line, err := s.buildProductLine(ctx, sub, &req.ProductLines[i], now)
			if err != nil {
				return err
			}
			if err := s.SubRepo.CreateProductLine(ctx, line); err != nil {
				return err
			}
			lines = append(lines, line)
		}

		if len(lines) > 0 {
			sub.RecomputeTotals(lines)
			sub.UpdatedAt = now
			if err := s.SubRepo.Update(ctx, sub); err != nil {
				return err
			}
		}

		if _, err := s.events.Record(ctx, RecordEventParams{
			SubscriptionID: sub.ID,
			EventType:      types.EventTypeCreated,
			Description:    "subscription created",
			EventData:      sub,
		}); err != nil {
			return err
		}

		if sub.ParentSubscriptionID != nil {
			if err := s.recordHierarchyPair(ctx, sub.ID, *sub.ParentSubscriptionID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &dto.SubscriptionResponse{Subscription: sub, ProductLines: lines}, nil
}

func (s *subscriptionService) buildProductLine(ctx context.Context, sub *subscription.Subscription, req *dto.AddProductLineRequest, now time.Time) (*subscription.ProductLine, error) {
	if err := req.Validate(); err != nil {
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
	return line, nil
}

func (s *subscriptionService) recordHierarchyPair(ctx context.Context, childID, parentID string) error {
	data := map[string]string{
		"parent_subscription_id": parentID,
		"child_subscription_id":  childID,
	}
	if _, err := s.events.Record(ctx, RecordEventParams{
		SubscriptionID: childID,
		EventType:      types.EventTypeParentAssigned,
		Description:    "parent subscription assigned",
		EventData:      data,
	}); err != nil {
		return err
	}
	_, err := s.events.Record(ctx, RecordEventParams{
		SubscriptionID: parentID,
		EventType:      types.EventTypeChildAdded,
		Description:    "child subscription added",
		EventData:      data,
	})
	return err
}

func (s *subscriptionService) Get(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	lines, err := s.SubRepo.ListProductLines(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.SubscriptionResponse{Subscription: sub, ProductLines: lines}, nil
}

func (s *subscriptionService) List(ctx context.Context, filter *types.SubscriptionFilter) (*dto.ListSubscriptionsResponse, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	subs, err := s.SubRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.SubRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]*dto.SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		items = append(items, &dto.SubscriptionResponse{Subscription: sub})
	}
	return &dto.ListSubscriptionsResponse{Items: items, Total: total}, nil
}

func (s *subscriptionService) Update(ctx context.Context, id string, req *dto.UpdateSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

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

	previousTotal := sub.TotalAmount
	previous := *sub

	applyUpdate(sub, req)

	now := s.Clock.Now()

	// A changed billing cycle or billing day re-anchors the schedule
	billingChanged := req.BillingCycle != nil || req.CustomCycleDays != nil || req.BillingDayOfMonth != nil
	if billingChanged && sub.NextBillingDate != nil {
		next, err := types.NextBillingDate(now, sub.BillingCycle, sub.BillingDayOfMonth, sub.CustomCycleDays, now)
		if err != nil {
			return nil, err
		}
		sub.NextBillingDate = &next
	}

	lines, err := s.SubRepo.ListProductLines(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.RecomputeTotals(lines)
	sub.UpdatedAt = now
	sub.UpdatedBy = types.GetUserID(ctx)

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SubRepo.Update(ctx, sub); err != nil {
			return err
		}
		return s.recordModification(ctx, sub, &previous, previousTotal)
	})
	if err != nil {
		return nil, err
	}

	return &dto.SubscriptionResponse{Subscription: sub, ProductLines: lines}, nil
}

func applyUpdate(sub *subscription.Subscription, req *dto.UpdateSubscriptionRequest) {
	if req.Name != nil {
		sub.Name = *req.Name
	}
	if req.Description != nil {
		sub.Description = *req.Description
	}
	if req.BillingCycle != nil {
		sub.BillingCycle = *req.BillingCycle
	}
	if req.CustomCycleDays != nil {
		sub.CustomCycleDays = req.CustomCycleDays
	}
	if req.BillingDayOfMonth != nil {
		sub.BillingDayOfMonth = req.BillingDayOfMonth
	}
	if req.AutoRenew != nil {
		sub.AutoRenew = *req.AutoRenew
	}
	if req.DiscountAmount != nil {
		sub.DiscountAmount = *req.DiscountAmount
	}
	if req.TaxPercentage != nil {
		sub.TaxPercentage = *req.TaxPercentage
	}
	if req.NoticePeriodDays != nil {
		sub.NoticePeriodDays = *req.NoticePeriodDays
	}
}

// recordModification appends the audit event for an update. Amount
// movements are tagged upgraded or downgraded; every other update is a
// plain modification. The full before and after states ride along.
func (s *subscriptionService) recordModification(ctx context.Context, sub *subscription.Subscription, previous *subscription.Subscription, previousTotal decimal.Decimal) error {
	eventType := types.EventTypeUpdated
	switch {
	case sub.TotalAmount.GreaterThan(previousTotal):
		eventType = types.EventTypeUpgraded
	case sub.TotalAmount.LessThan(previousTotal):
		eventType = types.EventTypeDowngraded
	}
	_, err := s.events.Record(ctx, RecordEventParams{
		SubscriptionID: sub.ID,
		EventType:      eventType,
		Description:    "subscription updated",
		EventData:      sub,
		PreviousValues: previous,
	})
	return err
}

func (s *subscriptionService) Delete(ctx context.Context, id string) error {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if sub.IsDeleted() {
		return errSubscriptionDeleted(id)
	}
	if sub.SubscriptionStatus == types.SubscriptionStatusActive {
		return ierr.NewError("cannot delete an active subscription").
			WithHint("Cancel the subscription before deleting it").
			WithReportableDetails(map[string]any{
				"subscription_id": id,
			}).
			Mark(ierr.ErrConflict)
	}

	childCount, err := s.SubRepo.CountChildren(ctx, id)
	if err != nil {
		return err
	}
	if childCount > 0 {
		return ierr.NewError("subscription has child subscriptions").
			WithHint("Remove or delete child subscriptions first").
			WithReportableDetails(map[string]any{
				"subscription_id": id,
				"child_count":     childCount,
			}).
			Mark(ierr.ErrConflict)
	}

	sub.UpdatedAt = s.Clock.Now()
	sub.UpdatedBy = types.GetUserID(ctx)
	return s.SubRepo.Delete(ctx, sub)
}

func (s *subscriptionService) Activate(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	return s.transition(ctx, id, types.SubscriptionStatusActive, types.EventTypeActivated,
		func(sub *subscription.Subscription, now time.Time) error {
			// Billing anchors at the trial end when a trial is running,
			// otherwise at activation time.
			anchor := now
			if sub.IsInTrial(now) {
				anchor = *sub.TrialEndDate
			}
			next, err := types.NextBillingDate(anchor, sub.BillingCycle, sub.BillingDayOfMonth, sub.CustomCycleDays, now)
			if err != nil {
				return err
			}
			sub.NextBillingDate = &next
			return nil
		})
}

func (s *subscriptionService) Pause(ctx context.Context, id string, req *dto.PauseSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.CanBePaused() {
		reason := "subscription is not active"
		if sub.HasParent() {
			reason = "child subscriptions cannot be paused independently"
		}
		s.recordTransitionError(ctx, sub, types.EventTypePaused, reason)
		return nil, ierr.NewError(reason).
			WithHint("Only active subscriptions without a parent can be paused").
			WithReportableDetails(map[string]any{
				"subscription_id": id,
				"status":          sub.SubscriptionStatus,
			}).
			Mark(ierr.ErrInvalidStateTransition)
	}

	return s.transition(ctx, id, types.SubscriptionStatusPaused, types.EventTypePaused,
		func(sub *subscription.Subscription, now time.Time) error {
			sub.PausedAt = &now
			return nil
		})
}

func (s *subscriptionService) Resume(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	return s.transition(ctx, id, types.SubscriptionStatusActive, types.EventTypeResumed,
		func(sub *subscription.Subscription, now time.Time) error {
			sub.ResumedAt = &now
			if sub.PausedAt != nil {
				sub.TotalPausedDays += int(now.Sub(*sub.PausedAt).Hours() / 24)
			}
			// A billing date that went stale during the pause is pushed
			// forward; NextBillingDate restarts from now in that case.
			if sub.NextBillingDate != nil && !sub.NextBillingDate.After(now) {
				next, err := types.NextBillingDate(*sub.NextBillingDate, sub.BillingCycle, sub.BillingDayOfMonth, sub.CustomCycleDays, now)
				if err != nil {
					return err
				}
				sub.NextBillingDate = &next
			}
			return nil
		})
}

func (s *subscriptionService) Cancel(ctx context.Context, id string, req *dto.CancelSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.CanBeCancelled() {
		s.recordTransitionError(ctx, sub, types.EventTypeCancelled, "subscription cannot be cancelled from its current state")
		return nil, errInvalidTransition(sub, types.SubscriptionStatusCancelled)
	}

	now := s.Clock.Now()
	effective := now.AddDate(0, 0, sub.EffectiveNoticePeriodDays())
	if req.Immediate {
		effective = now
	}
	if req.EffectiveDate != nil {
		if req.EffectiveDate.Before(now) {
			return nil, ierr.NewError("effective date is in the past").
				WithHint("Cancellation effective date must not be in the past").
				Mark(ierr.ErrValidation)
		}
		effective = *req.EffectiveDate
	}

	resp, err := s.transition(ctx, id, types.SubscriptionStatusCancelled, types.EventTypeCancelled,
		func(sub *subscription.Subscription, now time.Time) error {
			sub.CancellationRequestedDate = &now
			sub.CancellationEffectiveDate = &effective
			sub.CancellationReason = &req.Reason
			sub.CancellationNotes = req.Notes
			sub.EndDate = &effective
			sub.NextBillingDate = nil
			return nil
		})
	if err != nil {
		return nil, err
	}

	if req.CancelChildren {
		if err := s.cancelChildren(ctx, id, req); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// cancelChildren cascades a parent cancellation to its direct children.
// The hierarchy is one level deep, so no further recursion happens.
func (s *subscriptionService) cancelChildren(ctx context.Context, parentID string, req *dto.CancelSubscriptionRequest) error {
	children, err := s.SubRepo.ListChildren(ctx, parentID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if !child.CanBeCancelled() {
			continue
		}
		childReq := &dto.CancelSubscriptionRequest{
			Reason:        req.Reason,
			EffectiveDate: req.EffectiveDate,
			Notes:         req.Notes,
			Immediate:     req.Immediate,
		}
		if _, err := s.Cancel(ctx, child.ID, childReq); err != nil {
			return err
		}
	}
	return nil
}

func (s *subscriptionService) Expire(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	return s.transition(ctx, id, types.SubscriptionStatusExpired, types.EventTypeExpired,
		func(sub *subscription.Subscription, now time.Time) error {
			if sub.EndDate == nil {
				sub.EndDate = &now
			}
			sub.NextBillingDate = nil
			return nil
		})
}

// transition moves the subscription to the target status, applies the
// mutation, persists it and appends the audit event in one transaction.
func (s *subscriptionService) transition(
	ctx context.Context,
	id string,
	target types.SubscriptionStatus,
	eventType types.SubscriptionEventType,
	mutate func(sub *subscription.Subscription, now time.Time) error,
) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.IsDeleted() {
		return nil, errSubscriptionDeleted(id)
	}
	if !sub.SubscriptionStatus.CanTransitionTo(target) {
		s.recordTransitionError(ctx, sub, eventType, "invalid state transition")
		return nil, errInvalidTransition(sub, target)
	}

	now := s.Clock.Now()
	previousStatus := sub.SubscriptionStatus
	sub.SubscriptionStatus = target
	if mutate != nil {
		if err := mutate(sub, now); err != nil {
			return nil, err
		}
	}
	sub.UpdatedAt = now
	sub.UpdatedBy = types.GetUserID(ctx)

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SubRepo.Update(ctx, sub); err != nil {
			return err
		}
		_, err := s.events.Record(ctx, RecordEventParams{
			SubscriptionID: sub.ID,
			EventType:      eventType,
			Description:    "subscription " + eventType.String(),
			EventData: map[string]any{
				"previous_status": previousStatus,
				"new_status":      target,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("subscription transitioned",
		"subscription_id", sub.ID,
		"from", previousStatus,
		"to", target,
	)
	return &dto.SubscriptionResponse{Subscription: sub}, nil
}

// recordTransitionError appends an error event outside the failing
// operation so rejected transitions still leave an audit trail.
func (s *subscriptionService) recordTransitionError(ctx context.Context, sub *subscription.Subscription, eventType types.SubscriptionEventType, message string) {
	if _, err := s.events.Record(ctx, RecordEventParams{
		SubscriptionID: sub.ID,
		EventType:      eventType,
		Description:    "rejected " + eventType.String() + " attempt",
		EventData: map[string]any{
			"current_status": sub.SubscriptionStatus,
		},
		IsError:      true,
		ErrorMessage: message,
	}); err != nil {
		s.Logger.Errorw("failed to record transition error event",
			"subscription_id", sub.ID,
			"error", err,
		)
	}
}

func errInvalidTransition(sub *subscription.Subscription, target types.SubscriptionStatus) error {
	return ierr.NewError("invalid state transition").
		WithHintf("Cannot move subscription from %s to %s", sub.SubscriptionStatus, target).
		WithReportableDetails(map[string]any{
			"subscription_id": sub.ID,
			"current_status":  sub.SubscriptionStatus,
			"target_status":   target,
			"allowed":         sub.SubscriptionStatus.AllowedTransitions(),
		}).
		Mark(ierr.ErrInvalidStateTransition)
}

func errSubscriptionDeleted(id string) error {
	return ierr.NewError("subscription is deleted").
		WithHint("This subscription has been deleted").
		WithReportableDetails(map[string]any{
			"subscription_id": id,
		}).
		Mark(ierr.ErrNotFound)
}

func validateParentEligibility(parent *subscription.Subscription) error {
	if parent.IsDeleted() {
		return ierr.NewError("parent subscription is deleted").
			WithHint("Cannot link to a deleted subscription").
			Mark(ierr.ErrInvalidHierarchy)
	}
	if parent.HasParent() {
		return ierr.NewError("parent subscription is itself a child").
			WithHint("Subscription hierarchies are limited to one level").
			WithReportableDetails(map[string]any{
				"parent_subscription_id": parent.ID,
			}).
			Mark(ierr.ErrInvalidHierarchy)
	}
	return nil
}
