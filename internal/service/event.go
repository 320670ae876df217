package service

import (
	"context"
	"encoding/json"

	"github.com/renewly/renewly/internal/domain/events"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/types"
	"github.com/renewly/renewly/internal/webhook"
)

// RecordEventParams describes one audit record to append
type RecordEventParams struct {
	SubscriptionID string
	EventType      types.SubscriptionEventType
	Description    string
	EventData      any
	PreviousValues any
	IsError        bool
	ErrorMessage   string
}

// EventService owns the append-only subscription event log
type EventService interface {
	Record(ctx context.Context, params RecordEventParams) (*events.SubscriptionEvent, error)
	Get(ctx context.Context, id string) (*events.SubscriptionEvent, error)
	List(ctx context.Context, filter *types.EventFilter) ([]*events.SubscriptionEvent, error)
	Count(ctx context.Context, filter *types.EventFilter) (int, error)
	MarkCustomerNotified(ctx context.Context, id string) error

	// DeliverPendingWebhooks pushes undelivered events to the configured
	// endpoint and returns how many were sent.
	DeliverPendingWebhooks(ctx context.Context, limit int) (int, error)
}

type eventService struct {
	ServiceParams
}

func NewEventService(params ServiceParams) EventService {
	return &eventService{ServiceParams: params}
}

func (s *eventService) Record(ctx context.Context, params RecordEventParams) (*events.SubscriptionEvent, error) {
	if err := params.EventType.Validate(); err != nil {
		return nil, err
	}
	if params.SubscriptionID == "" {
		return nil, ierr.NewError("subscription id is required").
			WithHint("Events must reference a subscription").
			Mark(ierr.ErrValidation)
	}

	now := s.Clock.Now()
	event := &events.SubscriptionEvent{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_EVENT),
		SubscriptionID: params.SubscriptionID,
		EventType:      params.EventType,
		Category:       params.EventType.Category(),
		Severity:       params.EventType.Severity(params.IsError),
		EventDate:      now,
		Description:    params.Description,
		TriggeredBy:    types.GetEventSource(ctx),
		UserID:         types.GetUserID(ctx),
		IsError:        params.IsError,
		ErrorMessage:   params.ErrorMessage,
		BaseModel:      types.GetDefaultBaseModel(ctx, now),
	}

	var err error
	if event.EventData, err = marshalEventPayload(params.EventData); err != nil {
		return nil, err
	}
	if event.PreviousValues, err = marshalEventPayload(params.PreviousValues); err != nil {
		return nil, err
	}

	if err := s.EventRepo.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func marshalEventPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode event payload").
			Mark(ierr.ErrSystem)
	}
	return data, nil
}

func (s *eventService) Get(ctx context.Context, id string) (*events.SubscriptionEvent, error) {
	return s.EventRepo.Get(ctx, id)
}

func (s *eventService) List(ctx context.Context, filter *types.EventFilter) ([]*events.SubscriptionEvent, error) {
	if filter == nil {
		filter = types.NewEventFilter()
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return s.EventRepo.List(ctx, filter)
}

func (s *eventService) Count(ctx context.Context, filter *types.EventFilter) (int, error) {
	if filter == nil {
		filter = types.NewEventFilter()
	}
	return s.EventRepo.Count(ctx, filter)
}

func (s *eventService) MarkCustomerNotified(ctx context.Context, id string) error {
	event, err := s.EventRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !event.ShouldNotifyCustomer() {
		return ierr.NewError("event does not require customer notification").
			WithHint("This event type is not customer facing or was already notified").
			WithReportableDetails(map[string]any{
				"event_id":   id,
				"event_type": event.EventType,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return s.EventRepo.MarkCustomerNotified(ctx, id, s.Clock.Now())
}

func (s *eventService) DeliverPendingWebhooks(ctx context.Context, limit int) (int, error) {
	if !s.WebhookDispatcher.Enabled() {
		return 0, nil
	}
	if limit <= 0 {
		limit = 100
	}

	pending, err := s.EventRepo.ListPendingWebhooks(ctx, limit)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, event := range pending {
		payload := &webhook.Payload{
			EventID:        event.ID,
			SubscriptionID: event.SubscriptionID,
			EventType:      event.EventType.String(),
			Category:       string(event.Category),
			Severity:       string(event.Severity),
			OccurredAt:     event.EventDate,
			Data:           event.EventData,
		}
		if err := s.WebhookDispatcher.Dispatch(ctx, payload); err != nil {
			s.Logger.Errorw("webhook delivery failed",
				"event_id", event.ID,
				"event_type", event.EventType,
				"error", err,
			)
			continue
		}
		if err := s.EventRepo.MarkWebhookSent(ctx, event.ID, s.Clock.Now()); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
