package types

import (
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/samber/lo"
)

// InvoiceStatus is the payment lifecycle state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusFailed    InvoiceStatus = "failed"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusRefunded  InvoiceStatus = "refunded"
)

func (s InvoiceStatus) String() string {
	return string(s)
}

func (s InvoiceStatus) Validate() error {
	allowed := []InvoiceStatus{
		InvoiceStatusDraft,
		InvoiceStatusPending,
		InvoiceStatusPaid,
		InvoiceStatusFailed,
		InvoiceStatusCancelled,
		InvoiceStatusRefunded,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid invoice status").
			WithHint("Please provide a valid invoice status").
			WithReportableDetails(map[string]any{
				"status":  s,
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// invoiceTransitions is the invoice payment state machine. Failed
// invoices may be retried back to pending; refunded is terminal.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:     {InvoiceStatusPending, InvoiceStatusCancelled},
	InvoiceStatusPending:   {InvoiceStatusPaid, InvoiceStatusFailed, InvoiceStatusCancelled},
	InvoiceStatusFailed:    {InvoiceStatusPending, InvoiceStatusPaid, InvoiceStatusCancelled},
	InvoiceStatusPaid:      {InvoiceStatusRefunded},
	InvoiceStatusCancelled: {},
	InvoiceStatusRefunded:  {},
}

// CanTransitionTo reports whether the invoice state machine allows
// moving from the current status to the target status.
func (s InvoiceStatus) CanTransitionTo(target InvoiceStatus) bool {
	return lo.Contains(invoiceTransitions[s], target)
}

// IsFinal reports whether the invoice needs no further payment handling
func (s InvoiceStatus) IsFinal() bool {
	return s == InvoiceStatusPaid ||
		s == InvoiceStatusCancelled ||
		s == InvoiceStatusRefunded
}

// DunningStatus tracks the overdue-collection state of an invoice
type DunningStatus string

const (
	DunningStatusNotRequired DunningStatus = "not_required"
	DunningStatusInProgress  DunningStatus = "in_progress"
	DunningStatusGracePeriod DunningStatus = "grace_period"
	DunningStatusSuspended   DunningStatus = "suspended"
	DunningStatusResolved    DunningStatus = "resolved"
	DunningStatusFailed      DunningStatus = "failed"
)

func (s DunningStatus) String() string {
	return string(s)
}

func (s DunningStatus) Validate() error {
	allowed := []DunningStatus{
		DunningStatusNotRequired,
		DunningStatusInProgress,
		DunningStatusGracePeriod,
		DunningStatusSuspended,
		DunningStatusResolved,
		DunningStatusFailed,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid dunning status").
			WithHint("Please provide a valid dunning status").
			WithReportableDetails(map[string]any{
				"status":  s,
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// DunningSchedule is the number of days past due at which each dunning
// escalation level fires. Level N corresponds to index N.
var DunningSchedule = []int{3, 7, 14, 21}

// MaxDunningLevel is the level after which dunning is exhausted and the
// subscription becomes a suspension candidate.
var MaxDunningLevel = len(DunningSchedule)

// DefaultPaymentTermDays is the gap between issue and due date
const DefaultPaymentTermDays = 14

// PaymentRetryDelays is the number of days to wait before each payment
// retry. After the final attempt no further retries are scheduled and
// collection moves to dunning.
var PaymentRetryDelays = []int{1, 3, 7}

// MaxPaymentAttempts caps automatic charge attempts per invoice
var MaxPaymentAttempts = len(PaymentRetryDelays) + 1

// InvoiceFilter narrows invoice queries
type InvoiceFilter struct {
	*QueryFilter
	*TimeRangeFilter

	SubscriptionID *string        `json:"subscription_id,omitempty" form:"subscription_id"`
	AccountID      *string        `json:"account_id,omitempty" form:"account_id"`
	InvoiceStatus  *InvoiceStatus `json:"invoice_status,omitempty" form:"invoice_status"`
	DunningStatus  *DunningStatus `json:"dunning_status,omitempty" form:"dunning_status"`
	OverdueOnly    bool           `json:"overdue_only,omitempty" form:"overdue_only"`
}

// NewInvoiceFilter returns a filter with sane pagination defaults
func NewInvoiceFilter() *InvoiceFilter {
	return &InvoiceFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

func (f *InvoiceFilter) Validate() error {
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
	if f.InvoiceStatus != nil {
		if err := f.InvoiceStatus.Validate(); err != nil {
			return err
		}
	}
	if f.DunningStatus != nil {
		if err := f.DunningStatus.Validate(); err != nil {
			return err
		}
	}
	return nil
}
