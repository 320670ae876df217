package testutil

import (
	"context"
	"time"

	"github.com/renewly/renewly/internal/domain/events"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/types"
)

// InMemoryEventStore implements events.Repository
type InMemoryEventStore struct {
	events *InMemoryStore[*events.SubscriptionEvent]
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events: NewInMemoryStore[*events.SubscriptionEvent](),
	}
}

func (s *InMemoryEventStore) Clear() {
	s.events.Clear()
}

func copyEvent(event *events.SubscriptionEvent) *events.SubscriptionEvent {
	c := *event
	return &c
}

func (s *InMemoryEventStore) Create(ctx context.Context, event *events.SubscriptionEvent) error {
	if err := s.events.Create(ctx, event.ID, copyEvent(event)); err != nil {
		return ierr.NewError("event already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}

func (s *InMemoryEventStore) Get(ctx context.Context, id string) (*events.SubscriptionEvent, error) {
	event, err := s.events.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("event not found").
			WithHintf("Event with ID %s was not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copyEvent(event), nil
}

func eventMatchesFilter(_ context.Context, event *events.SubscriptionEvent, raw interface{}) bool {
	filter, ok := raw.(*types.EventFilter)
	if !ok || filter == nil {
		return true
	}
	if string(event.Status) != filter.GetStatus() {
		return false
	}
	if filter.SubscriptionID != nil && event.SubscriptionID != *filter.SubscriptionID {
		return false
	}
	if filter.EventType != nil && event.EventType != *filter.EventType {
		return false
	}
	if filter.Category != nil && event.Category != *filter.Category {
		return false
	}
	if filter.Severity != nil && event.Severity != *filter.Severity {
		return false
	}
	if filter.ErrorsOnly && !event.IsError {
		return false
	}
	if filter.TimeRangeFilter != nil {
		if filter.StartTime != nil && event.EventDate.Before(*filter.StartTime) {
			return false
		}
		if filter.EndTime != nil && event.EventDate.After(*filter.EndTime) {
			return false
		}
	}
	return true
}

func (s *InMemoryEventStore) List(ctx context.Context, filter *types.EventFilter) ([]*events.SubscriptionEvent, error) {
	result, err := s.events.List(ctx, filter, eventMatchesFilter,
		func(a, b *events.SubscriptionEvent) bool {
			return a.EventDate.After(b.EventDate)
		})
	if err != nil {
		return nil, err
	}
	out := make([]*events.SubscriptionEvent, 0, len(result))
	for _, event := range result {
		out = append(out, copyEvent(event))
	}
	return out, nil
}

func (s *InMemoryEventStore) Count(ctx context.Context, filter *types.EventFilter) (int, error) {
	return s.events.Count(ctx, filter, eventMatchesFilter)
}

func (s *InMemoryEventStore) MarkCustomerNotified(ctx context.Context, id string, at time.Time) error {
	event, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	event.CustomerNotified = true
	event.NotifiedDate = &at
	event.UpdatedAt = at
	return s.events.Update(ctx, id, event)
}

func (s *InMemoryEventStore) MarkWebhookSent(ctx context.Context, id string, at time.Time) error {
	event, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	event.WebhookSent = true
	event.WebhookSentDate = &at
	event.UpdatedAt = at
	return s.events.Update(ctx, id, event)
}

func (s *InMemoryEventStore) ListPendingWebhooks(ctx context.Context, limit int) ([]*events.SubscriptionEvent, error) {
	result, err := s.events.List(ctx, nil, func(_ context.Context, event *events.SubscriptionEvent, _ interface{}) bool {
		return event.Status == types.StatusPublished && event.ShouldTriggerWebhook()
	}, func(a, b *events.SubscriptionEvent) bool {
		return a.EventDate.Before(b.EventDate)
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	out := make([]*events.SubscriptionEvent, 0, len(result))
	for _, event := range result {
		out = append(out, copyEvent(event))
	}
	return out, nil
}
