package subscription

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/renewly/renewly/internal/types"
)

// Subscription is a recurring billing agreement for an account. Amounts
// are recomputed from the attached product lines; the stored totals are
// a denormalized snapshot kept consistent by RecomputeTotals.
type Subscription struct {
	ID        string `db:"id" json:"id"`
	AccountID string `db:"account_id" json:"account_id"`

	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description,omitempty"`

	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	// Billing configuration
	BillingCycle      types.BillingCycle `db:"billing_cycle" json:"billing_cycle"`
	CustomCycleDays   *int               `db:"custom_cycle_days" json:"custom_cycle_days,omitempty"`
	BillingDayOfMonth *int               `db:"billing_day_of_month" json:"billing_day_of_month,omitempty"`
	Currency          string             `db:"currency" json:"currency"`
	AutoRenew         bool               `db:"auto_renew" json:"auto_renew"`

	// Monetary snapshot, derived from product lines
	BaseAmount     decimal.Decimal `db:"base_amount" json:"base_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TaxPercentage  decimal.Decimal `db:"tax_percentage" json:"tax_percentage"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`

	// Schedule
	StartDate       time.Time  `db:"start_date" json:"start_date"`
	EndDate         *time.Time `db:"end_date" json:"end_date,omitempty"`
	TrialDays       int        `db:"trial_days" json:"trial_days"`
	TrialEndDate    *time.Time `db:"trial_end_date" json:"trial_end_date,omitempty"`
	NextBillingDate *time.Time `db:"next_billing_date" json:"next_billing_date,omitempty"`
	LastBillingDate *time.Time `db:"last_billing_date" json:"last_billing_date,omitempty"`
	PausedAt        *time.Time `db:"paused_at" json:"paused_at,omitempty"`
	ResumedAt       *time.Time `db:"resumed_at" json:"resumed_at,omitempty"`
	TotalPausedDays int        `db:"total_paused_days" json:"total_paused_days"`

	// Payment method summary, non-sensitive
	PaymentProvider    string `db:"payment_provider" json:"payment_provider,omitempty"`
	PaymentMethodType  string `db:"payment_method_type" json:"payment_method_type,omitempty"`
	PaymentMethodLast4 string `db:"payment_method_last4" json:"payment_method_last4,omitempty"`

	MaxRetryAttempts int `db:"max_retry_attempts" json:"max_retry_attempts"`

	// Cancellation
	NoticePeriodDays          int                       `db:"notice_period_days" json:"notice_period_days"`
	CancellationRequestedDate *time.Time                `db:"cancellation_requested_date" json:"cancellation_requested_date,omitempty"`
	CancellationEffectiveDate *time.Time                `db:"cancellation_effective_date" json:"cancellation_effective_date,omitempty"`
	CancellationReason        *types.CancellationReason `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancellationNotes         string                    `db:"cancellation_notes" json:"cancellation_notes,omitempty"`

	// Hierarchy. A subscription may have one parent; parents cannot
	// themselves be children, so the tree is at most one level deep.
	ParentSubscriptionID *string `db:"parent_subscription_id" json:"parent_subscription_id,omitempty"`

	types.BaseModel
}

// IsDeleted reports whether the subscription has been soft deleted
func (s *Subscription) IsDeleted() bool {
	return s.Status == types.StatusDeleted
}

// HasParent reports whether the subscription is a child in a hierarchy
func (s *Subscription) HasParent() bool {
	return s.ParentSubscriptionID != nil && *s.ParentSubscriptionID != ""
}

// IsInTrial reports whether the subscription is still inside its trial
// window at the given time.
func (s *Subscription) IsInTrial(now time.Time) bool {
	return s.TrialEndDate != nil && now.Before(*s.TrialEndDate)
}

// CanBeActivated reports whether the subscription may transition to active
func (s *Subscription) CanBeActivated() bool {
	return s.SubscriptionStatus.CanTransitionTo(types.SubscriptionStatusActive)
}

// CanBePaused reports whether the subscription may be paused. Children
// cannot be paused independently of their parent.
func (s *Subscription) CanBePaused() bool {
	return s.SubscriptionStatus == types.SubscriptionStatusActive && !s.HasParent()
}

// CanBeCancelled reports whether cancellation may be requested
func (s *Subscription) CanBeCancelled() bool {
	switch s.SubscriptionStatus {
	case types.SubscriptionStatusPending,
		types.SubscriptionStatusActive,
		types.SubscriptionStatusPaused:
		return true
	default:
		return false
	}
}

// IsBillable reports whether the subscription should be picked up by the
// billing sweep at the given time.
func (s *Subscription) IsBillable(now time.Time) bool {
	return s.SubscriptionStatus == types.SubscriptionStatusActive &&
		!s.IsDeleted() &&
		!s.IsInTrial(now) &&
		s.NextBillingDate != nil &&
		!s.NextBillingDate.After(now)
}

// EffectiveNoticePeriodDays returns the cancellation notice period,
// falling back to the default when unset.
func (s *Subscription) EffectiveNoticePeriodDays() int {
	if s.NoticePeriodDays > 0 {
		return s.NoticePeriodDays
	}
	return types.DefaultNoticePeriodDays
}

// EffectiveMaxRetryAttempts returns the payment attempt cap for this
// subscription, falling back to the system default when unset.
func (s *Subscription) EffectiveMaxRetryAttempts() int {
	if s.MaxRetryAttempts > 0 {
		return s.MaxRetryAttempts
	}
	return types.MaxPaymentAttempts
}

// DaysInBillingCycle returns the nominal cycle length used for proration
func (s *Subscription) DaysInBillingCycle() int {
	return s.BillingCycle.Days(s.CustomCycleDays)
}

// RecomputeTotals rederives the monetary snapshot from the non-removed
// product lines. Tax applies to the discounted base; all amounts round
// half-up to two decimal places.
func (s *Subscription) RecomputeTotals(lines []*ProductLine) {
	base := decimal.Zero
	for _, line := range lines {
		if line.IsRemoved() {
			continue
		}
		base = base.Add(line.TotalPrice)
	}
	s.BaseAmount = base.Round(2)

	taxable := s.BaseAmount.Sub(s.DiscountAmount)
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	s.TaxAmount = taxable.Mul(s.TaxPercentage).Div(decimal.NewFromInt(100)).Round(2)
	s.TotalAmount = s.BaseAmount.Sub(s.DiscountAmount).Add(s.TaxAmount).Round(2)
}
