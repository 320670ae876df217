package events

import (
	"context"
	"time"

	"github.com/renewly/renewly/internal/types"
)

// Repository provides append-only access to subscription events. There
// is deliberately no general update or delete; the log is immutable
// apart from delivery bookkeeping.
type Repository interface {
	Create(ctx context.Context, event *SubscriptionEvent) error
	Get(ctx context.Context, id string) (*SubscriptionEvent, error)
	List(ctx context.Context, filter *types.EventFilter) ([]*SubscriptionEvent, error)
	Count(ctx context.Context, filter *types.EventFilter) (int, error)

	MarkCustomerNotified(ctx context.Context, id string, at time.Time) error
	MarkWebhookSent(ctx context.Context, id string, at time.Time) error

	// ListPendingWebhooks returns non-error events not yet delivered,
	// oldest first.
	ListPendingWebhooks(ctx context.Context, limit int) ([]*SubscriptionEvent, error)
}
