package events

import (
	"encoding/json"
	"time"

	"github.com/renewly/renewly/internal/types"
)

// SubscriptionEvent is one append-only audit record. Events are never
// updated after creation except for the delivery flags.
type SubscriptionEvent struct {
	ID             string `db:"id" json:"id"`
	SubscriptionID string `db:"subscription_id" json:"subscription_id"`

	EventType   types.SubscriptionEventType `db:"event_type" json:"event_type"`
	Category    types.EventCategory         `db:"category" json:"category"`
	Severity    types.EventSeverity         `db:"severity" json:"severity"`
	EventDate   time.Time                   `db:"event_date" json:"event_date"`
	Description string                      `db:"description" json:"description,omitempty"`

	// EventData captures the state relevant to the event; for
	// modifications PreviousValues holds the pre-change fields.
	EventData      json.RawMessage `db:"event_data" json:"event_data,omitempty"`
	PreviousValues json.RawMessage `db:"previous_values" json:"previous_values,omitempty"`

	// Attribution
	TriggeredBy string `db:"triggered_by" json:"triggered_by"`
	UserID      string `db:"user_id" json:"user_id,omitempty"`

	IsError      bool   `db:"is_error" json:"is_error"`
	ErrorMessage string `db:"error_message" json:"error_message,omitempty"`

	// Delivery flags, the only mutable fields
	CustomerNotified bool       `db:"customer_notified" json:"customer_notified"`
	NotifiedDate     *time.Time `db:"notified_date" json:"notified_date,omitempty"`
	WebhookSent      bool       `db:"webhook_sent" json:"webhook_sent"`
	WebhookSentDate  *time.Time `db:"webhook_sent_date" json:"webhook_sent_date,omitempty"`

	types.BaseModel
}

// ShouldNotifyCustomer reports whether a customer notification is still
// owed for this event.
func (e *SubscriptionEvent) ShouldNotifyCustomer() bool {
	return e.EventType.NotifiesCustomer() && !e.CustomerNotified
}

// ShouldTriggerWebhook reports whether the event is still pending
// webhook delivery. Error events are internal and never dispatched.
func (e *SubscriptionEvent) ShouldTriggerWebhook() bool {
	return !e.IsError && !e.WebhookSent
}
