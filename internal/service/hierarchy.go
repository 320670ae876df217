package service

import (
	"context"
	"fmt"

	"github.com/renewly/renewly/internal/api/dto"
	"github.com/renewly/renewly/internal/domain/subscription"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/types"
)

// HierarchyService manages parent/child links between subscriptions.
// The hierarchy is strictly one level deep: a parent never has a
// parent, and a child never has children.
type HierarchyService interface {
	Link(ctx context.Context, childID string, req *dto.LinkSubscriptionRequest) error
	Unlink(ctx context.Context, childID string) error
	GetParent(ctx context.Context, id string) (*subscription.Subscription, error)
	GetChildren(ctx context.Context, id string) ([]*subscription.Subscription, error)
	ValidateHierarchy(ctx context.Context, id string) (*dto.HierarchyValidationResponse, error)
}

type hierarchyService struct {
	ServiceParams
	events EventService
}

func NewHierarchyService(params ServiceParams) HierarchyService {
	return &hierarchyService{
		ServiceParams: params,
		events:        NewEventService(params),
	}
}

func (s *hierarchyService) Link(ctx context.Context, childID string, req *dto.LinkSubscriptionRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	parentID := req.ParentSubscriptionID

	if childID == parentID {
		return ierr.NewError("subscription cannot be its own parent").
			WithHint("A subscription cannot be linked to itself").
			Mark(ierr.ErrInvalidHierarchy)
	}

	child, err := s.SubRepo.Get(ctx, childID)
	if err != nil {
		return err
	}
	parent, err := s.SubRepo.Get(ctx, parentID)
	if err != nil {
		return err
	}

	if err := s.validateLink(ctx, child, parent); err != nil {
		s.recordLinkError(ctx, childID, parentID, err)
		return err
	}

	now := s.Clock.Now()
	child.ParentSubscriptionID = &parent.ID
	child.UpdatedAt = now
	child.UpdatedBy = types.GetUserID(ctx)

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SubRepo.Update(ctx, child); err != nil {
			return err
		}
		return s.recordPair(ctx, child.ID, parent.ID,
			types.EventTypeParentAssigned, types.EventTypeChildAdded)
	})
}

func (s *hierarchyService) validateLink(ctx context.Context, child, parent *subscription.Subscription) error {
	if child.IsDeleted() || parent.IsDeleted() {
		return ierr.NewError("cannot link deleted subscriptions").
			WithHint("Both subscriptions must exist and not be deleted").
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
	if child.HasParent() {
		return ierr.NewError("subscription already has a parent").
			WithHint("Unlink the subscription from its current parent first").
			WithReportableDetails(map[string]any{
				"child_subscription_id":  child.ID,
				"current_parent_id":      *child.ParentSubscriptionID,
			}).
			Mark(ierr.ErrInvalidHierarchy)
	}

	childCount, err := s.SubRepo.CountChildren(ctx, child.ID)
	if err != nil {
		return err
	}
	if childCount > 0 {
		return ierr.NewError("subscription has children of its own").
			WithHint("A subscription with children cannot become a child").
			WithReportableDetails(map[string]any{
				"child_subscription_id": child.ID,
				"child_count":           childCount,
			}).
			Mark(ierr.ErrInvalidHierarchy)
	}
	return nil
}

func (s *hierarchyService) Unlink(ctx context.Context, childID string) error {
	child, err := s.SubRepo.Get(ctx, childID)
	if err != nil {
		return err
	}
	if !child.HasParent() {
		return ierr.NewError("subscription has no parent").
			WithHint("This subscription is not linked to a parent").
			WithReportableDetails(map[string]any{
				"subscription_id": childID,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	parentID := *child.ParentSubscriptionID
	now := s.Clock.Now()
	child.ParentSubscriptionID = nil
	child.UpdatedAt = now
	child.UpdatedBy = types.GetUserID(ctx)

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.SubRepo.Update(ctx, child); err != nil {
			return err
		}
		// The child's timeline shows its parent assignment changing
		// (to none); the parent's timeline shows the child leaving.
		return s.recordPair(ctx, childID, parentID,
			types.EventTypeParentAssigned, types.EventTypeChildRemoved)
	})
}

// recordPair appends one event on the child and one on the parent so
// both timelines show the hierarchy change.
func (s *hierarchyService) recordPair(ctx context.Context, childID, parentID string, childEvent, parentEvent types.SubscriptionEventType) error {
	data := map[string]string{
		"parent_subscription_id": parentID,
		"child_subscription_id":  childID,
	}
	if _, err := s.events.Record(ctx, RecordEventParams{
		SubscriptionID: childID,
		EventType:      childEvent,
		Description:    "hierarchy " + childEvent.String(),
		EventData:      data,
	}); err != nil {
		return err
	}
	_, err := s.events.Record(ctx, RecordEventParams{
		SubscriptionID: parentID,
		EventType:      parentEvent,
		Description:    "hierarchy " + parentEvent.String(),
		EventData:      data,
	})
	return err
}

func (s *hierarchyService) recordLinkError(ctx context.Context, childID, parentID string, cause error) {
	if _, err := s.events.Record(ctx, RecordEventParams{
		SubscriptionID: childID,
		EventType:      types.EventTypeParentAssigned,
		Description:    "rejected hierarchy link attempt",
		EventData: map[string]string{
			"parent_subscription_id": parentID,
		},
		IsError:      true,
		ErrorMessage: cause.Error(),
	}); err != nil {
		s.Logger.Errorw("failed to record hierarchy error event",
			"subscription_id", childID,
			"error", err,
		)
	}
}

func (s *hierarchyService) GetParent(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.HasParent() {
		return nil, ierr.NewError("subscription has no parent").
			WithHintf("Subscription %s is not linked to a parent", id).
			Mark(ierr.ErrNotFound)
	}
	return s.SubRepo.Get(ctx, *sub.ParentSubscriptionID)
}

func (s *hierarchyService) GetChildren(ctx context.Context, id string) ([]*subscription.Subscription, error) {
	if _, err := s.SubRepo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.SubRepo.ListChildren(ctx, id)
}

// ValidateHierarchy walks both directions from the subscription and
// reports structural violations without mutating anything.
func (s *hierarchyService) ValidateHierarchy(ctx context.Context, id string) (*dto.HierarchyValidationResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	depth := 0
	if sub.HasParent() {
		depth = 1
		parent, err := s.SubRepo.Get(ctx, *sub.ParentSubscriptionID)
		if err != nil {
			if ierr.IsNotFound(err) {
				return &dto.HierarchyValidationResponse{
					Valid:   false,
					Depth:   depth,
					Message: fmt.Sprintf("parent subscription %s does not exist", *sub.ParentSubscriptionID),
				}, nil
			}
			return nil, err
		}
		if parent.IsDeleted() {
			return &dto.HierarchyValidationResponse{
				Valid:   false,
				Depth:   depth,
				Message: fmt.Sprintf("parent subscription %s is deleted", parent.ID),
			}, nil
		}
		if parent.HasParent() {
			return &dto.HierarchyValidationResponse{
				Valid:   false,
				Depth:   depth + 1,
				Message: "hierarchy exceeds the one-level limit",
			}, nil
		}

		childCount, err := s.SubRepo.CountChildren(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		if childCount > 0 {
			return &dto.HierarchyValidationResponse{
				Valid:   false,
				Depth:   depth,
				Message: "child subscription has children of its own",
			}, nil
		}
	}

	return &dto.HierarchyValidationResponse{Valid: true, Depth: depth}, nil
}
