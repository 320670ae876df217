package types

import (
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionStatus is the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) Validate() error {
	allowed := []SubscriptionStatus{
		SubscriptionStatusPending,
		SubscriptionStatusActive,
		SubscriptionStatusPaused,
		SubscriptionStatusCancelled,
		SubscriptionStatusExpired,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid subscription status").
			WithHint("Please provide a valid subscription status").
			WithReportableDetails(map[string]any{
				"status":  s,
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// subscriptionTransitions is the full lifecycle state machine. Cancelled
// and expired are terminal.
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusPending:   {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusActive:    {SubscriptionStatusPaused, SubscriptionStatusCancelled, SubscriptionStatusExpired},
	SubscriptionStatusPaused:    {SubscriptionStatusActive, SubscriptionStatusCancelled},
	SubscriptionStatusCancelled: {},
	SubscriptionStatusExpired:   {},
}

// CanTransitionTo reports whether the state machine allows moving from
// the current status to the target status.
func (s SubscriptionStatus) CanTransitionTo(target SubscriptionStatus) bool {
	return lo.Contains(subscriptionTransitions[s], target)
}

// AllowedTransitions returns the set of statuses reachable from s. The
// returned slice is empty for terminal statuses.
func (s SubscriptionStatus) AllowedTransitions() []SubscriptionStatus {
	return subscriptionTransitions[s]
}

// IsTerminal reports whether no further transitions are possible
func (s SubscriptionStatus) IsTerminal() bool {
	return len(subscriptionTransitions[s]) == 0
}

// BillingCycle determines the length of a billing period
type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleAnnual    BillingCycle = "annual"
	BillingCycleCustom    BillingCycle = "custom"
)

// DefaultCustomCycleDays is used when a custom cycle has no explicit
// day count configured.
const DefaultCustomCycleDays = 30

func (c BillingCycle) String() string {
	return string(c)
}

func (c BillingCycle) Validate() error {
	allowed := []BillingCycle{
		BillingCycleMonthly,
		BillingCycleQuarterly,
		BillingCycleAnnual,
		BillingCycleCustom,
	}
	if !lo.Contains(allowed, c) {
		return ierr.NewError("invalid billing cycle").
			WithHint("Please provide a valid billing cycle").
			WithReportableDetails(map[string]any{
				"cycle":   c,
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Days returns the nominal number of days in one billing cycle, used
// for proration. Custom cycles fall back to DefaultCustomCycleDays when
// customDays is not set.
func (c BillingCycle) Days(customDays *int) int {
	switch c {
	case BillingCycleMonthly:
		return 30
	case BillingCycleQuarterly:
		return 90
	case BillingCycleAnnual:
		return 365
	case BillingCycleCustom:
		if customDays != nil && *customDays > 0 {
			return *customDays
		}
		return DefaultCustomCycleDays
	default:
		return DefaultCustomCycleDays
	}
}

// CancellationReason records why a subscription was cancelled
type CancellationReason string

const (
	CancellationReasonCustomerRequest CancellationReason = "customer_request"
	CancellationReasonNonPayment      CancellationReason = "non_payment"
	CancellationReasonFraud           CancellationReason = "fraud"
	CancellationReasonOther           CancellationReason = "other"
)

func (r CancellationReason) String() string {
	return string(r)
}

func (r CancellationReason) Validate() error {
	allowed := []CancellationReason{
		CancellationReasonCustomerRequest,
		CancellationReasonNonPayment,
		CancellationReasonFraud,
		CancellationReasonOther,
	}
	if !lo.Contains(allowed, r) {
		return ierr.NewError("invalid cancellation reason").
			WithHint("Please provide a valid cancellation reason").
			WithReportableDetails(map[string]any{
				"reason":  r,
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// DefaultNoticePeriodDays applies when a subscription has no explicit
// cancellation notice period configured.
const DefaultNoticePeriodDays = 30

// SubscriptionFilter narrows subscription queries
type SubscriptionFilter struct {
	*QueryFilter
	*TimeRangeFilter

	AccountID            *string             `json:"account_id,omitempty" form:"account_id"`
	SubscriptionStatus   *SubscriptionStatus `json:"subscription_status,omitempty" form:"subscription_status"`
	BillingCycle         *BillingCycle       `json:"billing_cycle,omitempty" form:"billing_cycle"`
	ParentSubscriptionID *string             `json:"parent_subscription_id,omitempty" form:"parent_subscription_id"`
	ParentsOnly          bool                `json:"parents_only,omitempty" form:"parents_only"`
}

// NewSubscriptionFilter returns a filter with sane pagination defaults
func NewSubscriptionFilter() *SubscriptionFilter {
	return &SubscriptionFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

func (f *SubscriptionFilter) Validate() error {
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
	if f.SubscriptionStatus != nil {
		if err := f.SubscriptionStatus.Validate(); err != nil {
			return err
		}
	}
	if f.BillingCycle != nil {
		if err := f.BillingCycle.Validate(); err != nil {
			return err
		}
	}
	return nil
}
