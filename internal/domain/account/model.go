package account

import (
	"github.com/renewly/renewly/internal/types"
)

// Account is the billable customer a subscription belongs to
type Account struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`

	// Billing contact details used on invoices
	BillingAddress string `db:"billing_address" json:"billing_address,omitempty"`
	Currency       string `db:"currency" json:"currency"`

	types.BaseModel
}

// IsDeleted reports whether the account has been soft deleted
func (a *Account) IsDeleted() bool {
	return a.Status == types.StatusDeleted
}
