package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/renewly/renewly/internal/domain/subscription"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/types"
)

// InMemorySubscriptionStore implements subscription.Repository
type InMemorySubscriptionStore struct {
	mu    sync.RWMutex
	subs  *InMemoryStore[*subscription.Subscription]
	lines *InMemoryStore[*subscription.ProductLine]
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		subs:  NewInMemoryStore[*subscription.Subscription](),
		lines: NewInMemoryStore[*subscription.ProductLine](),
	}
}

func (s *InMemorySubscriptionStore) Clear() {
	s.subs.Clear()
	s.lines.Clear()
}

func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	c := *sub
	return &c
}

func copyProductLine(line *subscription.ProductLine) *subscription.ProductLine {
	c := *line
	return &c
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	if err := s.subs.Create(ctx, sub.ID, copySubscription(sub)); err != nil {
		return ierr.NewError("subscription already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("subscription not found").
			WithHintf("Subscription with ID %s was not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copySubscription(sub), nil
}

func (s *InMemorySubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	if err := s.subs.Update(ctx, sub.ID, copySubscription(sub)); err != nil {
		return ierr.NewError("subscription not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (s *InMemorySubscriptionStore) Delete(ctx context.Context, sub *subscription.Subscription) error {
	existing, err := s.Get(ctx, sub.ID)
	if err != nil {
		return err
	}
	existing.Status = types.StatusDeleted
	existing.UpdatedAt = sub.UpdatedAt
	existing.UpdatedBy = sub.UpdatedBy
	return s.subs.Update(ctx, existing.ID, existing)
}

func subscriptionMatchesFilter(_ context.Context, sub *subscription.Subscription, raw interface{}) bool {
	filter, ok := raw.(*types.SubscriptionFilter)
	if !ok || filter == nil {
		return true
	}
	if string(sub.Status) != filter.GetStatus() {
		return false
	}
	if filter.AccountID != nil && sub.AccountID != *filter.AccountID {
		return false
	}
	if filter.SubscriptionStatus != nil && sub.SubscriptionStatus != *filter.SubscriptionStatus {
		return false
	}
	if filter.BillingCycle != nil && sub.BillingCycle != *filter.BillingCycle {
		return false
	}
	if filter.ParentSubscriptionID != nil {
		if sub.ParentSubscriptionID == nil || *sub.ParentSubscriptionID != *filter.ParentSubscriptionID {
			return false
		}
	}
	if filter.ParentsOnly && sub.ParentSubscriptionID != nil {
		return false
	}
	if filter.TimeRangeFilter != nil {
		if filter.StartTime != nil && sub.CreatedAt.Before(*filter.StartTime) {
			return false
		}
		if filter.EndTime != nil && sub.CreatedAt.After(*filter.EndTime) {
			return false
		}
	}
	return true
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	result, err := s.subs.List(ctx, filter, subscriptionMatchesFilter,
		func(a, b *subscription.Subscription) bool {
			return a.CreatedAt.After(b.CreatedAt)
		})
	if err != nil {
		return nil, err
	}
	out := make([]*subscription.Subscription, 0, len(result))
	for _, sub := range result {
		out = append(out, copySubscription(sub))
	}
	return out, nil
}

func (s *InMemorySubscriptionStore) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	return s.subs.Count(ctx, filter, subscriptionMatchesFilter)
}

func (s *InMemorySubscriptionStore) ListChildren(ctx context.Context, parentID string) ([]*subscription.Subscription, error) {
	result, err := s.subs.List(ctx, nil, func(_ context.Context, sub *subscription.Subscription, _ interface{}) bool {
		return sub.ParentSubscriptionID != nil &&
			*sub.ParentSubscriptionID == parentID &&
			sub.Status != types.StatusDeleted
	}, func(a, b *subscription.Subscription) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	out := make([]*subscription.Subscription, 0, len(result))
	for _, sub := range result {
		out = append(out, copySubscription(sub))
	}
	return out, nil
}

func (s *InMemorySubscriptionStore) CountChildren(ctx context.Context, parentID string) (int, error) {
	children, err := s.ListChildren(ctx, parentID)
	if err != nil {
		return 0, err
	}
	return len(children), nil
}

func (s *InMemorySubscriptionStore) ListDueForBilling(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error) {
	result, err := s.subs.List(ctx, nil, func(_ context.Context, sub *subscription.Subscription, _ interface{}) bool {
		return sub.IsBillable(asOf)
	}, func(a, b *subscription.Subscription) bool {
		return a.NextBillingDate.Before(*b.NextBillingDate)
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	out := make([]*subscription.Subscription, 0, len(result))
	for _, sub := range result {
		out = append(out, copySubscription(sub))
	}
	return out, nil
}

func (s *InMemorySubscriptionStore) ListExpiring(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error) {
	result, err := s.subs.List(ctx, nil, func(_ context.Context, sub *subscription.Subscription, _ interface{}) bool {
		return sub.SubscriptionStatus == types.SubscriptionStatusActive &&
			sub.Status == types.StatusPublished &&
			sub.EndDate != nil &&
			!sub.EndDate.After(asOf)
	}, func(a, b *subscription.Subscription) bool {
		return a.EndDate.Before(*b.EndDate)
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	out := make([]*subscription.Subscription, 0, len(result))
	for _, sub := range result {
		out = append(out, copySubscription(sub))
	}
	return out, nil
}

// ClaimForBilling mirrors the conditional update the SQL repository
// runs, guarded by a store-level lock.
func (s *InMemorySubscriptionStore) ClaimForBilling(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		return false, ierr.NewError("subscription not found").
			Mark(ierr.ErrNotFound)
	}
	if sub.SubscriptionStatus != types.SubscriptionStatusActive ||
		sub.NextBillingDate == nil ||
		!sub.NextBillingDate.Equal(expected) {
		return false, nil
	}

	updated := copySubscription(sub)
	updated.NextBillingDate = &next
	updated.LastBillingDate = &expected
	updated.UpdatedAt = expected
	return true, s.subs.Update(ctx, id, updated)
}

func (s *InMemorySubscriptionStore) CreateProductLine(ctx context.Context, line *subscription.ProductLine) error {
	if err := s.lines.Create(ctx, line.ID, copyProductLine(line)); err != nil {
		return ierr.NewError("product line already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}

func (s *InMemorySubscriptionStore) GetProductLine(ctx context.Context, id string) (*subscription.ProductLine, error) {
	line, err := s.lines.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("product line not found").
			WithHintf("Product line with ID %s was not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copyProductLine(line), nil
}

func (s *InMemorySubscriptionStore) UpdateProductLine(ctx context.Context, line *subscription.ProductLine) error {
	if err := s.lines.Update(ctx, line.ID, copyProductLine(line)); err != nil {
		return ierr.NewError("product line not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (s *InMemorySubscriptionStore) ListProductLines(ctx context.Context, subscriptionID string) ([]*subscription.ProductLine, error) {
	result, err := s.lines.List(ctx, nil, func(_ context.Context, line *subscription.ProductLine, _ interface{}) bool {
		return line.SubscriptionID == subscriptionID && line.Status != types.StatusDeleted
	}, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AddedDate.Before(result[j].AddedDate)
	})
	out := make([]*subscription.ProductLine, 0, len(result))
	for _, line := range result {
		out = append(out, copyProductLine(line))
	}
	return out, nil
}
