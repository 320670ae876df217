package subscription

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/renewly/renewly/internal/types"
)

// ProductLine attaches a catalog product to a subscription. ProductName,
// ProductSKU and UnitPrice are snapshots taken at attach time; catalog
// changes do not flow through to existing lines.
type ProductLine struct {
	ID             string `db:"id" json:"id"`
	SubscriptionID string `db:"subscription_id" json:"subscription_id"`
	ProductID      string `db:"product_id" json:"product_id"`

	ProductName string          `db:"product_name" json:"product_name"`
	ProductSKU  string          `db:"product_sku" json:"product_sku"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`

	Quantity       int             `db:"quantity" json:"quantity"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TotalPrice     decimal.Decimal `db:"total_price" json:"total_price"`

	AddedDate   time.Time  `db:"added_date" json:"added_date"`
	RemovalDate *time.Time `db:"removal_date" json:"removal_date,omitempty"`

	// Recurring lines bill every period; one-time lines (setup fees)
	// bill exactly once, tracked by LastBilledDate.
	IsRecurring    bool       `db:"is_recurring" json:"is_recurring"`
	LastBilledDate *time.Time `db:"last_billed_date" json:"last_billed_date,omitempty"`

	// Per-line trial, independent of the subscription trial
	TrialDays    int        `db:"trial_days" json:"trial_days"`
	TrialEndDate *time.Time `db:"trial_end_date" json:"trial_end_date,omitempty"`

	// Usage ceiling for metered products, nil means unlimited
	UsageLimit *int `db:"usage_limit" json:"usage_limit,omitempty"`

	types.BaseModel
}

// IsRemoved reports whether the line has been soft-removed from the
// subscription. Removed lines stay on record for invoicing history.
func (l *ProductLine) IsRemoved() bool {
	return l.RemovalDate != nil || l.Status == types.StatusDeleted
}

// IsInTrial reports whether the line is still inside its own trial window
func (l *ProductLine) IsInTrial(now time.Time) bool {
	return l.TrialEndDate != nil && now.Before(*l.TrialEndDate)
}

// RecomputeTotal rederives the line total as the discounted unit price
// times quantity, rounded to two decimal places.
func (l *ProductLine) RecomputeTotal() {
	unit := l.UnitPrice.Sub(l.DiscountAmount)
	if unit.IsNegative() {
		unit = decimal.Zero
	}
	l.TotalPrice = unit.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}
