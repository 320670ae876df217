package types

import (
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionEventType identifies what happened to a subscription
type SubscriptionEventType string

const (
	// Lifecycle events
	EventTypeCreated   SubscriptionEventType = "created"
	EventTypeActivated SubscriptionEventType = "activated"
	EventTypePaused    SubscriptionEventType = "paused"
	EventTypeResumed   SubscriptionEventType = "resumed"
	EventTypeCancelled SubscriptionEventType = "cancelled"
	EventTypeExpired   SubscriptionEventType = "expired"

	// Billing events
	EventTypeInvoiceGenerated SubscriptionEventType = "invoice_generated"
	EventTypePaymentSucceeded SubscriptionEventType = "payment_succeeded"
	EventTypePaymentFailed    SubscriptionEventType = "payment_failed"
	EventTypePaymentRetry     SubscriptionEventType = "payment_retry"

	// Modification events
	EventTypeUpdated        SubscriptionEventType = "updated"
	EventTypeUpgraded       SubscriptionEventType = "upgraded"
	EventTypeDowngraded     SubscriptionEventType = "downgraded"
	EventTypeProductAdded   SubscriptionEventType = "product_added"
	EventTypeProductRemoved SubscriptionEventType = "product_removed"

	// Hierarchy events
	EventTypeParentAssigned SubscriptionEventType = "parent_assigned"
	EventTypeChildAdded     SubscriptionEventType = "child_added"
	EventTypeChildRemoved   SubscriptionEventType = "child_removed"
)

var allEventTypes = []SubscriptionEventType{
	EventTypeCreated,
	EventTypeActivated,
	EventTypePaused,
	EventTypeResumed,
	EventTypeCancelled,
	EventTypeExpired,
	EventTypeInvoiceGenerated,
	EventTypePaymentSucceeded,
	EventTypePaymentFailed,
	EventTypePaymentRetry,
	EventTypeUpdated,
	EventTypeUpgraded,
	EventTypeDowngraded,
	EventTypeProductAdded,
	EventTypeProductRemoved,
	EventTypeParentAssigned,
	EventTypeChildAdded,
	EventTypeChildRemoved,
}

func (t SubscriptionEventType) String() string {
	return string(t)
}

func (t SubscriptionEventType) Validate() error {
	if !lo.Contains(allEventTypes, t) {
		return ierr.NewError("invalid subscription event type").
			WithHint("Please provide a valid event type").
			WithReportableDetails(map[string]any{
				"event_type": t,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// EventCategory groups event types for filtering and reporting
type EventCategory string

const (
	EventCategoryLifecycle    EventCategory = "lifecycle"
	EventCategoryBilling      EventCategory = "billing"
	EventCategoryModification EventCategory = "modification"
	EventCategoryHierarchy    EventCategory = "hierarchy"
)

// Category returns the category the event type belongs to
func (t SubscriptionEventType) Category() EventCategory {
	switch t {
	case EventTypeInvoiceGenerated, EventTypePaymentSucceeded,
		EventTypePaymentFailed, EventTypePaymentRetry:
		return EventCategoryBilling
	case EventTypeUpdated, EventTypeUpgraded, EventTypeDowngraded,
		EventTypeProductAdded, EventTypeProductRemoved:
		return EventCategoryModification
	case EventTypeParentAssigned, EventTypeChildAdded, EventTypeChildRemoved:
		return EventCategoryHierarchy
	default:
		return EventCategoryLifecycle
	}
}

// EventSeverity ranks the operational urgency of an event
type EventSeverity string

const (
	EventSeverityInfo     EventSeverity = "info"
	EventSeverityWarning  EventSeverity = "warning"
	EventSeverityError    EventSeverity = "error"
	EventSeverityCritical EventSeverity = "critical"
)

// Severity derives the severity for an event of this type. Error events
// escalate one step above the normal severity of the type.
func (t SubscriptionEventType) Severity(isError bool) EventSeverity {
	if isError {
		if t == EventTypePaymentFailed {
			return EventSeverityCritical
		}
		return EventSeverityError
	}
	switch t {
	case EventTypePaymentFailed, EventTypeCancelled, EventTypeExpired:
		return EventSeverityWarning
	default:
		return EventSeverityInfo
	}
}

// NotifiesCustomer reports whether events of this type should produce a
// customer-facing notification.
func (t SubscriptionEventType) NotifiesCustomer() bool {
	switch t {
	case EventTypeActivated, EventTypeCancelled, EventTypePaymentFailed, EventTypeExpired:
		return true
	default:
		return false
	}
}

// EventFilter narrows subscription event queries
type EventFilter struct {
	*QueryFilter
	*TimeRangeFilter

	SubscriptionID *string                `json:"subscription_id,omitempty" form:"subscription_id"`
	EventType      *SubscriptionEventType `json:"event_type,omitempty" form:"event_type"`
	Category       *EventCategory         `json:"category,omitempty" form:"category"`
	Severity       *EventSeverity         `json:"severity,omitempty" form:"severity"`
	ErrorsOnly     bool                   `json:"errors_only,omitempty" form:"errors_only"`
}

// NewEventFilter returns a filter with sane pagination defaults
func NewEventFilter() *EventFilter {
	return &EventFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

func (f *EventFilter) Validate() error {
	if f.QueryFilter != nil {
		if err := f.QueryFilter.Validate(); err != nil {
			return err
		}
	}
	if f.TimeRangeFilter != nil {
		if err := f.TimeRangeFilter.Validate(); err != nil {
			return err
		}
	}
	if f.EventType != nil {
		if err := f.EventType.Validate(); err != nil {
			return err
		}
	}
	return nil
}
