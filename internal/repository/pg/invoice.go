package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/renewly/renewly/internal/domain/invoice"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/postgres"
	"github.com/renewly/renewly/internal/types"
)

type invoiceRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewInvoiceRepository(client postgres.IClient, log *logger.Logger) invoice.Repository {
	return &invoiceRepository{client: client, logger: log}
}

const invoiceColumns = `
	id, subscription_id, account_id, invoice_number, invoice_status, currency,
	customer_name, customer_email, billing_address,
	issue_date, due_date, paid_date, cancelled_date, refunded_date, period_start, period_end,
	subtotal, discount_amount, tax_amount, total_amount, amount_paid,
	payment_attempts, last_payment_attempt, last_payment_error, next_retry_date,
	dunning_status, dunning_level, last_dunning_date, next_dunning_date,
	is_sent, sent_date, is_disputed, dispute_notes, notes,
	status, created_at, updated_at, created_by, updated_by`

func (r *invoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (
			:id, :subscription_id, :account_id, :invoice_number, :invoice_status, :currency,
			:customer_name, :customer_email, :billing_address,
			:issue_date, :due_date, :paid_date, :cancelled_date, :refunded_date, :period_start, :period_end,
			:subtotal, :discount_amount, :tax_amount, :total_amount, :amount_paid,
			:payment_attempts, :last_payment_attempt, :last_payment_error, :next_retry_date,
			:dunning_status, :dunning_level, :last_dunning_date, :next_dunning_date,
			:is_sent, :sent_date, :is_disputed, :dispute_notes, :notes,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)`

	if _, err := r.client.Querier(ctx).NamedExecContext(ctx, query, inv); err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("An invoice with this number already exists").
				WithReportableDetails(map[string]any{
					"invoice_number": inv.InvoiceNumber,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create invoice").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	if err := r.client.Querier(ctx).GetContext(ctx, &inv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("invoice not found").
				WithHintf("Invoice with ID %s was not found", id).
				WithReportableDetails(map[string]any{
					"invoice_id": id,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get invoice").
			Mark(ierr.ErrDatabase)
	}
	return &inv, nil
}

func (r *invoiceRepository) GetByNumber(ctx context.Context, invoiceNumber string) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE invoice_number = $1`

	if err := r.client.Querier(ctx).GetContext(ctx, &inv, query, invoiceNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("invoice not found").
				WithHintf("Invoice %s was not found", invoiceNumber).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get invoice").
			Mark(ierr.ErrDatabase)
	}
	return &inv, nil
}

func (r *invoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) error {
	query := `
		UPDATE invoices SET
			invoice_status = :invoice_status,
			paid_date = :paid_date,
			cancelled_date = :cancelled_date,
			refunded_date = :refunded_date,
			amount_paid = :amount_paid,
			payment_attempts = :payment_attempts,
			last_payment_attempt = :last_payment_attempt,
			last_payment_error = :last_payment_error,
			next_retry_date = :next_retry_date,
			dunning_status = :dunning_status,
			dunning_level = :dunning_level,
			last_dunning_date = :last_dunning_date,
			next_dunning_date = :next_dunning_date,
			is_sent = :is_sent,
			sent_date = :sent_date,
			is_disputed = :is_disputed,
			dispute_notes = :dispute_notes,
			notes = :notes,
			status = :status,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id`

	result, err := r.client.Querier(ctx).NamedExecContext(ctx, query, inv)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update invoice").
			Mark(ierr.ErrDatabase)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ierr.NewError("invoice not found").
			WithHintf("Invoice with ID %s was not found", inv.ID).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *invoiceRepository) List(ctx context.Context, filter *types.InvoiceFilter) ([]*invoice.Invoice, error) {
	where, args := buildInvoiceWhere(filter, time.Time{})
	query := `SELECT ` + invoiceColumns + ` FROM invoices ` + where

	query += fmt.Sprintf(" ORDER BY %s %s", sanitizeSort(filter.GetSort()), sanitizeOrder(filter.GetOrder()))
	if !filter.IsUnlimited() {
		args = append(args, filter.GetLimit(), filter.GetOffset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	invoices := make([]*invoice.Invoice, 0)
	if err := r.client.Querier(ctx).SelectContext(ctx, &invoices, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoices").
			Mark(ierr.ErrDatabase)
	}
	return invoices, nil
}

func (r *invoiceRepository) Count(ctx context.Context, filter *types.InvoiceFilter) (int, error) {
	where, args := buildInvoiceWhere(filter, time.Time{})
	query := `SELECT COUNT(*) FROM invoices ` + where

	var count int
	if err := r.client.Querier(ctx).GetContext(ctx, &count, query, args...); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count invoices").
			Mark(ierr.ErrDatabase)
	}
	return count, nil
}

func buildInvoiceWhere(filter *types.InvoiceFilter, now time.Time) (string, []interface{}) {
	clauses := []string{"status = $1"}
	args := []interface{}{filter.GetStatus()}

	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.SubscriptionID != nil {
		add("subscription_id = $%d", *filter.SubscriptionID)
	}
	if filter.AccountID != nil {
		add("account_id = $%d", *filter.AccountID)
	}
	if filter.InvoiceStatus != nil {
		add("invoice_status = $%d", *filter.InvoiceStatus)
	}
	if filter.DunningStatus != nil {
		add("dunning_status = $%d", *filter.DunningStatus)
	}
	if filter.OverdueOnly {
		if now.IsZero() {
			now = time.Now().UTC()
		}
		add("due_date < $%d", now)
		clauses = append(clauses, "invoice_status IN ('pending', 'failed')")
		clauses = append(clauses, "total_amount > amount_paid")
	}
	if filter.TimeRangeFilter != nil {
		if filter.StartTime != nil {
			add("created_at >= $%d", *filter.StartTime)
		}
		if filter.EndTime != nil {
			add("created_at <= $%d", *filter.EndTime)
		}
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

const lineItemColumns = `
	id, invoice_id, subscription_id, product_line_id, product_id, product_sku,
	description, quantity, unit_price, discount_amount, tax_amount, amount,
	is_prorated, period_start, period_end,
	status, created_at, updated_at, created_by, updated_by`

func (r *invoiceRepository) CreateLineItems(ctx context.Context, items []*invoice.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	query := `
		INSERT INTO invoice_line_items (` + lineItemColumns + `)
		VALUES (
			:id, :invoice_id, :subscription_id, :product_line_id, :product_id, :product_sku,
			:description, :quantity, :unit_price, :discount_amount, :tax_amount, :amount,
			:is_prorated, :period_start, :period_end,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)`

	for _, item := range items {
		if _, err := r.client.Querier(ctx).NamedExecContext(ctx, query, item); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to create invoice line items").
				Mark(ierr.ErrDatabase)
		}
	}
	return nil
}

func (r *invoiceRepository) ListLineItems(ctx context.Context, invoiceID string) ([]*invoice.LineItem, error) {
	query := `SELECT ` + lineItemColumns + `
		FROM invoice_line_items
		WHERE invoice_id = $1 AND status != $2
		ORDER BY created_at ASC`

	items := make([]*invoice.LineItem, 0)
	if err := r.client.Querier(ctx).SelectContext(ctx, &items, query, invoiceID, types.StatusDeleted); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoice line items").
			Mark(ierr.ErrDatabase)
	}
	return items, nil
}

func (r *invoiceRepository) ListRetryDue(ctx context.Context, asOf time.Time, limit int) ([]*invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE status = $1
		  AND invoice_status = 'failed'
		  AND is_disputed = false
		  AND next_retry_date IS NOT NULL
		  AND next_retry_date <= $2
		ORDER BY due_date ASC
		LIMIT $3`

	invoices := make([]*invoice.Invoice, 0)
	err := r.client.Querier(ctx).SelectContext(ctx, &invoices, query, types.StatusPublished, asOf, limit)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoices due for payment retry").
			Mark(ierr.ErrDatabase)
	}
	return invoices, nil
}

func (r *invoiceRepository) ListDunningDue(ctx context.Context, asOf time.Time, limit int) ([]*invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE status = $1
		  AND invoice_status IN ('pending', 'failed')
		  AND total_amount > amount_paid
		  AND due_date < $2
		  AND (
			(dunning_status = 'not_required' AND payment_attempts > 0)
			OR (dunning_status IN ('in_progress', 'grace_period') AND next_dunning_date IS NOT NULL AND next_dunning_date <= $2)
		  )
		ORDER BY due_date ASC
		LIMIT $3`

	invoices := make([]*invoice.Invoice, 0)
	err := r.client.Querier(ctx).SelectContext(ctx, &invoices, query, types.StatusPublished, asOf, limit)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoices due for dunning").
			Mark(ierr.ErrDatabase)
	}
	return invoices, nil
}
