package product

import (
	"github.com/shopspring/decimal"

	"github.com/renewly/renewly/internal/types"
)

// Product is a catalog entry that can be attached to a subscription as
// a product line. Attaching snapshots the fields below, so later catalog
// edits never change existing subscriptions.
type Product struct {
	ID          string          `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	SKU         string          `db:"sku" json:"sku"`
	Description string          `db:"description" json:"description,omitempty"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Currency    string          `db:"currency" json:"currency"`

	types.BaseModel
}

// IsAvailable reports whether the product can be attached to new
// subscriptions.
func (p *Product) IsAvailable() bool {
	return p.Status == types.StatusPublished
}
