package invoice

import (
	"context"
	"time"

	"github.com/renewly/renewly/internal/types"
)

// Repository provides access to invoices and their line items
type Repository interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	GetByNumber(ctx context.Context, invoiceNumber string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, filter *types.InvoiceFilter) ([]*Invoice, error)
	Count(ctx context.Context, filter *types.InvoiceFilter) (int, error)

	CreateLineItems(ctx context.Context, items []*LineItem) error
	ListLineItems(ctx context.Context, invoiceID string) ([]*LineItem, error)

	// ListDunningDue returns unpaid invoices whose next dunning date is
	// at or before asOf, plus overdue invoices that have not yet entered
	// dunning.
	ListDunningDue(ctx context.Context, asOf time.Time, limit int) ([]*Invoice, error)

	// ListRetryDue returns failed, undisputed invoices whose next retry
	// date is at or before asOf.
	ListRetryDue(ctx context.Context, asOf time.Time, limit int) ([]*Invoice, error)
}
