package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/renewly/renewly/internal/types"
)

// Invoice is a charge raised against a subscription for one billing
// period. Dunning fields track the overdue-collection escalation.
type Invoice struct {
	ID             string `db:"id" json:"id"`
	SubscriptionID string `db:"subscription_id" json:"subscription_id"`
	AccountID      string `db:"account_id" json:"account_id"`
	InvoiceNumber  string `db:"invoice_number" json:"invoice_number"`

	InvoiceStatus types.InvoiceStatus `db:"invoice_status" json:"invoice_status"`
	Currency      string              `db:"currency" json:"currency"`

	IssueDate     time.Time  `db:"issue_date" json:"issue_date"`
	DueDate       time.Time  `db:"due_date" json:"due_date"`
	PaidDate      *time.Time `db:"paid_date" json:"paid_date,omitempty"`
	CancelledDate *time.Time `db:"cancelled_date" json:"cancelled_date,omitempty"`
	RefundedDate  *time.Time `db:"refunded_date" json:"refunded_date,omitempty"`
	PeriodStart   time.Time  `db:"period_start" json:"period_start"`
	PeriodEnd     time.Time  `db:"period_end" json:"period_end"`

	// Customer snapshot frozen at generation time; account edits do not
	// rewrite issued invoices.
	CustomerName   string `db:"customer_name" json:"customer_name"`
	CustomerEmail  string `db:"customer_email" json:"customer_email"`
	BillingAddress string `db:"billing_address" json:"billing_address,omitempty"`

	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	AmountPaid     decimal.Decimal `db:"amount_paid" json:"amount_paid"`

	// Payment retry bookkeeping
	PaymentAttempts    int        `db:"payment_attempts" json:"payment_attempts"`
	LastPaymentAttempt *time.Time `db:"last_payment_attempt" json:"last_payment_attempt,omitempty"`
	LastPaymentError   string     `db:"last_payment_error" json:"last_payment_error,omitempty"`
	NextRetryDate      *time.Time `db:"next_retry_date" json:"next_retry_date,omitempty"`

	// Dunning escalation state
	DunningStatus   types.DunningStatus `db:"dunning_status" json:"dunning_status"`
	DunningLevel    int                 `db:"dunning_level" json:"dunning_level"`
	LastDunningDate *time.Time          `db:"last_dunning_date" json:"last_dunning_date,omitempty"`
	NextDunningDate *time.Time          `db:"next_dunning_date" json:"next_dunning_date,omitempty"`

	// Delivery and disputes
	IsSent       bool       `db:"is_sent" json:"is_sent"`
	SentDate     *time.Time `db:"sent_date" json:"sent_date,omitempty"`
	IsDisputed   bool       `db:"is_disputed" json:"is_disputed"`
	DisputeNotes string     `db:"dispute_notes" json:"dispute_notes,omitempty"`
	Notes        string     `db:"notes" json:"notes,omitempty"`

	LineItems []*LineItem `db:"-" json:"line_items,omitempty"`

	types.BaseModel
}

// LineItem is one charge on an invoice. The product fields are a
// snapshot taken at generation time, independent of later catalog
// changes. Prorated items cover a partial billing period.
type LineItem struct {
	ID             string  `db:"id" json:"id"`
	InvoiceID      string  `db:"invoice_id" json:"invoice_id"`
	SubscriptionID string  `db:"subscription_id" json:"subscription_id"`
	ProductLineID  *string `db:"product_line_id" json:"product_line_id,omitempty"`
	ProductID      string  `db:"product_id" json:"product_id,omitempty"`
	ProductSKU     string  `db:"product_sku" json:"product_sku,omitempty"`

	Description    string          `db:"description" json:"description"`
	Quantity       int             `db:"quantity" json:"quantity"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unit_price"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TaxAmount      decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`

	IsProrated  bool       `db:"is_prorated" json:"is_prorated"`
	PeriodStart *time.Time `db:"period_start" json:"period_start,omitempty"`
	PeriodEnd   *time.Time `db:"period_end" json:"period_end,omitempty"`

	types.BaseModel
}

// Balance returns the outstanding amount on the invoice
func (i *Invoice) Balance() decimal.Decimal {
	return i.TotalAmount.Sub(i.AmountPaid)
}

// IsOverdue reports whether the invoice is past due with an outstanding
// balance at the given time.
func (i *Invoice) IsOverdue(now time.Time) bool {
	return !i.InvoiceStatus.IsFinal() &&
		i.DueDate.Before(now) &&
		i.Balance().IsPositive()
}

// DaysPastDue returns the whole days elapsed since the due date,
// zero when not yet due.
func (i *Invoice) DaysPastDue(now time.Time) int {
	if !now.After(i.DueDate) {
		return 0
	}
	return int(now.Sub(i.DueDate).Hours() / 24)
}

// ShouldStartDunning reports whether dunning should begin: the invoice
// is overdue, at least one payment has been attempted, and no dunning
// is in flight yet.
func (i *Invoice) ShouldStartDunning(now time.Time) bool {
	return i.IsOverdue(now) &&
		i.DunningStatus == types.DunningStatusNotRequired &&
		i.PaymentAttempts > 0
}

// ComputeNextDunningDate returns the date the next escalation fires for
// the invoice's current dunning level, or nil when the schedule is
// exhausted.
func (i *Invoice) ComputeNextDunningDate() *time.Time {
	if i.DunningLevel >= len(types.DunningSchedule) {
		return nil
	}
	next := i.DueDate.AddDate(0, 0, types.DunningSchedule[i.DunningLevel])
	return &next
}

// DunningExhausted reports whether every escalation level has fired
func (i *Invoice) DunningExhausted() bool {
	return i.DunningLevel >= types.MaxDunningLevel
}
