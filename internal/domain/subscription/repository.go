package subscription

import (
	"context"
	"time"

	"github.com/renewly/renewly/internal/types"
)

// Repository provides access to subscriptions and their product lines
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, sub *Subscription) error
	List(ctx context.Context, filter *types.SubscriptionFilter) ([]*Subscription, error)
	Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error)

	// Hierarchy
	ListChildren(ctx context.Context, parentID string) ([]*Subscription, error)
	CountChildren(ctx context.Context, parentID string) (int, error)

	// ListDueForBilling returns active subscriptions whose next billing
	// date is at or before asOf, capped at limit.
	ListDueForBilling(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error)

	// ListExpiring returns active subscriptions whose end date has
	// passed as of asOf, capped at limit.
	ListExpiring(ctx context.Context, asOf time.Time, limit int) ([]*Subscription, error)

	// ClaimForBilling atomically advances the next billing date from
	// expected to next. It returns false when another worker already
	// claimed the subscription.
	ClaimForBilling(ctx context.Context, id string, expected, next time.Time) (bool, error)

	// Product lines
	CreateProductLine(ctx context.Context, line *ProductLine) error
	GetProductLine(ctx context.Context, id string) (*ProductLine, error)
	UpdateProductLine(ctx context.Context, line *ProductLine) error
	ListProductLines(ctx context.Context, subscriptionID string) ([]*ProductLine, error)
}
