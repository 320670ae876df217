package testutil

import (
	"context"
	"sort"
	"time"

	"github.com/renewly/renewly/internal/domain/invoice"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/types"
)

// InMemoryInvoiceStore implements invoice.Repository
type InMemoryInvoiceStore struct {
	invoices *InMemoryStore[*invoice.Invoice]
	items    *InMemoryStore[*invoice.LineItem]
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		invoices: NewInMemoryStore[*invoice.Invoice](),
		items:    NewInMemoryStore[*invoice.LineItem](),
	}
}

func (s *InMemoryInvoiceStore) Clear() {
	s.invoices.Clear()
	s.items.Clear()
}

func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	c := *inv
	c.LineItems = nil
	return &c
}

func (s *InMemoryInvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) error {
	existing, _ := s.invoices.List(ctx, nil, func(_ context.Context, i *invoice.Invoice, _ interface{}) bool {
		return i.InvoiceNumber == inv.InvoiceNumber
	}, nil)
	if len(existing) > 0 {
		return ierr.NewError("invoice number already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	if err := s.invoices.Create(ctx, inv.ID, copyInvoice(inv)); err != nil {
		return ierr.NewError("invoice already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	inv, err := s.invoices.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("invoice not found").
			WithHintf("Invoice with ID %s was not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copyInvoice(inv), nil
}

func (s *InMemoryInvoiceStore) GetByNumber(ctx context.Context, invoiceNumber string) (*invoice.Invoice, error) {
	result, err := s.invoices.List(ctx, nil, func(_ context.Context, inv *invoice.Invoice, _ interface{}) bool {
		return inv.InvoiceNumber == invoiceNumber
	}, nil)
	if err != nil || len(result) == 0 {
		return nil, ierr.NewError("invoice not found").
			WithHintf("Invoice %s was not found", invoiceNumber).
			Mark(ierr.ErrNotFound)
	}
	return copyInvoice(result[0]), nil
}

func (s *InMemoryInvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) error {
	if err := s.invoices.Update(ctx, inv.ID, copyInvoice(inv)); err != nil {
		return ierr.NewError("invoice not found").
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func invoiceMatchesFilter(_ context.Context, inv *invoice.Invoice, raw interface{}) bool {
	filter, ok := raw.(*types.InvoiceFilter)
	if !ok || filter == nil {
		return true
	}
	if string(inv.Status) != filter.GetStatus() {
		return false
	}
	if filter.SubscriptionID != nil && inv.SubscriptionID != *filter.SubscriptionID {
		return false
	}
	if filter.AccountID != nil && inv.AccountID != *filter.AccountID {
		return false
	}
	if filter.InvoiceStatus != nil && inv.InvoiceStatus != *filter.InvoiceStatus {
		return false
	}
	if filter.DunningStatus != nil && inv.DunningStatus != *filter.DunningStatus {
		return false
	}
	if filter.OverdueOnly && !inv.IsOverdue(time.Now().UTC()) {
		return false
	}
	if filter.TimeRangeFilter != nil {
		if filter.StartTime != nil && inv.CreatedAt.Before(*filter.StartTime) {
			return false
		}
		if filter.EndTime != nil && inv.CreatedAt.After(*filter.EndTime) {
			return false
		}
	}
	return true
}

func (s *InMemoryInvoiceStore) List(ctx context.Context, filter *types.InvoiceFilter) ([]*invoice.Invoice, error) {
	result, err := s.invoices.List(ctx, filter, invoiceMatchesFilter,
		func(a, b *invoice.Invoice) bool {
			return a.CreatedAt.After(b.CreatedAt)
		})
	if err != nil {
		return nil, err
	}
	out := make([]*invoice.Invoice, 0, len(result))
	for _, inv := range result {
		out = append(out, copyInvoice(inv))
	}
	return out, nil
}

func (s *InMemoryInvoiceStore) Count(ctx context.Context, filter *types.InvoiceFilter) (int, error) {
	return s.invoices.Count(ctx, filter, invoiceMatchesFilter)
}

func (s *InMemoryInvoiceStore) CreateLineItems(ctx context.Context, items []*invoice.LineItem) error {
	for _, item := range items {
		c := *item
		if err := s.items.Create(ctx, item.ID, &c); err != nil {
			return ierr.NewError("line item already exists").
				Mark(ierr.ErrAlreadyExists)
		}
	}
	return nil
}

func (s *InMemoryInvoiceStore) ListLineItems(ctx context.Context, invoiceID string) ([]*invoice.LineItem, error) {
	result, err := s.items.List(ctx, nil, func(_ context.Context, item *invoice.LineItem, _ interface{}) bool {
		return item.InvoiceID == invoiceID && item.Status != types.StatusDeleted
	}, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	out := make([]*invoice.LineItem, 0, len(result))
	for _, item := range result {
		c := *item
		out = append(out, &c)
	}
	return out, nil
}

func (s *InMemoryInvoiceStore) ListRetryDue(ctx context.Context, asOf time.Time, limit int) ([]*invoice.Invoice, error) {
	result, err := s.invoices.List(ctx, nil, func(_ context.Context, inv *invoice.Invoice, _ interface{}) bool {
		return inv.Status == types.StatusPublished &&
			inv.InvoiceStatus == types.InvoiceStatusFailed &&
			!inv.IsDisputed &&
			inv.NextRetryDate != nil && !inv.NextRetryDate.After(asOf)
	}, func(a, b *invoice.Invoice) bool {
		return a.DueDate.Before(b.DueDate)
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	out := make([]*invoice.Invoice, 0, len(result))
	for _, inv := range result {
		out = append(out, copyInvoice(inv))
	}
	return out, nil
}

func (s *InMemoryInvoiceStore) ListDunningDue(ctx context.Context, asOf time.Time, limit int) ([]*invoice.Invoice, error) {
	result, err := s.invoices.List(ctx, nil, func(_ context.Context, inv *invoice.Invoice, _ interface{}) bool {
		if inv.Status != types.StatusPublished || !inv.IsOverdue(asOf) {
			return false
		}
		if inv.ShouldStartDunning(asOf) {
			return true
		}
		inDunning := inv.DunningStatus == types.DunningStatusInProgress ||
			inv.DunningStatus == types.DunningStatusGracePeriod
		return inDunning && inv.NextDunningDate != nil && !inv.NextDunningDate.After(asOf)
	}, func(a, b *invoice.Invoice) bool {
		return a.DueDate.Before(b.DueDate)
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	out := make([]*invoice.Invoice, 0, len(result))
	for _, inv := range result {
		out = append(out, copyInvoice(inv))
	}
	return out, nil
}
