package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/renewly/renewly/internal/domain/subscription"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/postgres"
	"github.com/renewly/renewly/internal/types"
)

type subscriptionRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewSubscriptionRepository(client postgres.IClient, log *logger.Logger) subscription.Repository {
	return &subscriptionRepository{client: client, logger: log}
}

const subscriptionColumns = `
	id, account_id, name, description, subscription_status,
	billing_cycle, custom_cycle_days, billing_day_of_month, currency, auto_renew,
	base_amount, discount_amount, tax_percentage, tax_amount, total_amount,
	start_date, end_date, trial_days, trial_end_date,
	next_billing_date, last_billing_date, paused_at, resumed_at, total_paused_days,
	payment_provider, payment_method_type, payment_method_last4, max_retry_attempts,
	notice_period_days, cancellation_requested_date, cancellation_effective_date,
	cancellation_reason, cancellation_notes, parent_subscription_id,
	status, created_at, updated_at, created_by, updated_by`

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES (
			:id, :account_id, :name, :description, :subscription_status,
			:billing_cycle, :custom_cycle_days, :billing_day_of_month, :currency, :auto_renew,
			:base_amount, :discount_amount, :tax_percentage, :tax_amount, :total_amount,
			:start_date, :end_date, :trial_days, :trial_end_date,
			:next_billing_date, :last_billing_date, :paused_at, :resumed_at, :total_paused_days,
			:payment_provider, :payment_method_type, :payment_method_last4, :max_retry_attempts,
			:notice_period_days, :cancellation_requested_date, :cancellation_effective_date,
			:cancellation_reason, :cancellation_notes, :parent_subscription_id,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)`

	if _, err := r.client.Querier(ctx).NamedExecContext(ctx, query, sub); err != nil {
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("A subscription with this identifier already exists").
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	if err := r.client.Querier(ctx).GetContext(ctx, &sub, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("subscription not found").
				WithHintf("Subscription with ID %s was not found", id).
				WithReportableDetails(map[string]any{
					"subscription_id": id,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			Mark(ierr.ErrDatabase)
	}
	return &sub, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	query := `
		UPDATE subscriptions SET
			name = :name,
			description = :description,
			subscription_status = :subscription_status,
			billing_cycle = :billing_cycle,
			custom_cycle_days = :custom_cycle_days,
			billing_day_of_month = :billing_day_of_month,
			auto_renew = :auto_renew,
			base_amount = :base_amount,
			discount_amount = :discount_amount,
			tax_percentage = :tax_percentage,
			tax_amount = :tax_amount,
			total_amount = :total_amount,
			end_date = :end_date,
			trial_end_date = :trial_end_date,
			next_billing_date = :next_billing_date,
			last_billing_date = :last_billing_date,
			paused_at = :paused_at,
			resumed_at = :resumed_at,
			total_paused_days = :total_paused_days,
			payment_provider = :payment_provider,
			payment_method_type = :payment_method_type,
			payment_method_last4 = :payment_method_last4,
			max_retry_attempts = :max_retry_attempts,
			notice_period_days = :notice_period_days,
			cancellation_requested_date = :cancellation_requested_date,
			cancellation_effective_date = :cancellation_effective_date,
			cancellation_reason = :cancellation_reason,
			cancellation_notes = :cancellation_notes,
			parent_subscription_id = :parent_subscription_id,
			status = :status,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id`

	result, err := r.client.Querier(ctx).NamedExecContext(ctx, query, sub)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ierr.NewError("subscription not found").
			WithHintf("Subscription with ID %s was not found", sub.ID).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, sub *subscription.Subscription) error {
	query := `
		UPDATE subscriptions
		SET status = $1, updated_at = $2, updated_by = $3
		WHERE id = $4`

	_, err := r.client.Querier(ctx).ExecContext(ctx, query,
		types.StatusDeleted, sub.UpdatedAt, sub.UpdatedBy, sub.ID)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to delete subscription").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	where, args := buildSubscriptionWhere(filter)
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions ` + where

	query += fmt.Sprintf(" ORDER BY %s %s", sanitizeSort(filter.GetSort()), sanitizeOrder(filter.GetOrder()))
	if !filter.IsUnlimited() {
		args = append(args, filter.GetLimit(), filter.GetOffset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	subs := make([]*subscription.Subscription, 0)
	if err := r.client.Querier(ctx).SelectContext(ctx, &subs, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return subs, nil
}

func (r *subscriptionRepository) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	where, args := buildSubscriptionWhere(filter)
	query := `SELECT COUNT(*) FROM subscriptions ` + where

	var count int
	if err := r.client.Querier(ctx).GetContext(ctx, &count, query, args...); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return count, nil
}

func buildSubscriptionWhere(filter *types.SubscriptionFilter) (string, []interface{}) {
	clauses := []string{"status = $1"}
	args := []interface{}{filter.GetStatus()}

	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.AccountID != nil {
		add("account_id = $%d", *filter.AccountID)
	}
	if filter.SubscriptionStatus != nil {
		add("subscription_status = $%d", *filter.SubscriptionStatus)
	}
	if filter.BillingCycle != nil {
		add("billing_cycle = $%d", *filter.BillingCycle)
	}
	if filter.ParentSubscriptionID != nil {
		add("parent_subscription_id = $%d", *filter.ParentSubscriptionID)
	}
	if filter.ParentsOnly {
		clauses = append(clauses, "parent_subscription_id IS NULL")
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

func (r *subscriptionRepository) ListChildren(ctx context.Context, parentID string) ([]*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE parent_subscription_id = $1 AND status != $2
		ORDER BY created_at ASC`

	subs := make([]*subscription.Subscription, 0)
	if err := r.client.Querier(ctx).SelectContext(ctx, &subs, query, parentID, types.StatusDeleted); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list child subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return subs, nil
}

func (r *subscriptionRepository) CountChildren(ctx context.Context, parentID string) (int, error) {
	query := `SELECT COUNT(*) FROM subscriptions WHERE parent_subscription_id = $1 AND status != $2`

	var count int
	if err := r.client.Querier(ctx).GetContext(ctx, &count, query, parentID, types.StatusDeleted); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count child subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return count, nil
}

func (r *subscriptionRepository) ListDueForBilling(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE subscription_status = $1
		  AND status = $2
		  AND next_billing_date IS NOT NULL
		  AND next_billing_date <= $3
		  AND (trial_end_date IS NULL OR trial_end_date <= $3)
		ORDER BY next_billing_date ASC
		LIMIT $4`

	subs := make([]*subscription.Subscription, 0)
	err := r.client.Querier(ctx).SelectContext(ctx, &subs, query,
		types.SubscriptionStatusActive, types.StatusPublished, asOf, limit)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions due for billing").
			Mark(ierr.ErrDatabase)
	}
	return subs, nil
}

func (r *subscriptionRepository) ListExpiring(ctx context.Context, asOf time.Time, limit int) ([]*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE subscription_status = $1
		  AND status = $2
		  AND end_date IS NOT NULL
		  AND end_date <= $3
		ORDER BY end_date ASC
		LIMIT $4`

	subs := make([]*subscription.Subscription, 0)
	err := r.client.Querier(ctx).SelectContext(ctx, &subs, query,
		types.SubscriptionStatusActive, types.StatusPublished, asOf, limit)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list expiring subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return subs, nil
}

// ClaimForBilling advances next_billing_date only if it still holds the
// expected value, so concurrent sweep workers cannot double-bill.
func (r *subscriptionRepository) ClaimForBilling(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	query := `
		UPDATE subscriptions
		SET next_billing_date = $1, last_billing_date = $2, updated_at = $2
		WHERE id = $3 AND next_billing_date = $4 AND subscription_status = $5`

	result, err := r.client.Querier(ctx).ExecContext(ctx, query,
		next, expected, id, expected, types.SubscriptionStatusActive)
	if err != nil {
		return false, ierr.WithError(err).
			WithHint("Failed to claim subscription for billing").
			Mark(ierr.ErrDatabase)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, ierr.WithError(err).
			WithHint("Failed to claim subscription for billing").
			Mark(ierr.ErrDatabase)
	}
	return rows == 1, nil
}

const productLineColumns = `
	id, subscription_id, product_id, product_name, product_sku, unit_price,
	quantity, discount_amount, total_price, added_date, removal_date,
	is_recurring, last_billed_date, trial_days, trial_end_date, usage_limit,
	status, created_at, updated_at, created_by, updated_by`

func (r *subscriptionRepository) CreateProductLine(ctx context.Context, line *subscription.ProductLine) error {
	query := `
		INSERT INTO subscription_product_lines (` + productLineColumns + `)
		VALUES (
			:id, :subscription_id, :product_id, :product_name, :product_sku, :unit_price,
			:quantity, :discount_amount, :total_price, :added_date, :removal_date,
			:is_recurring, :last_billed_date, :trial_days, :trial_end_date, :usage_limit,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)`

	if _, err := r.client.Querier(ctx).NamedExecContext(ctx, query, line); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to add product line").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) GetProductLine(ctx context.Context, id string) (*subscription.ProductLine, error) {
	var line subscription.ProductLine
	query := `SELECT ` + productLineColumns + ` FROM subscription_product_lines WHERE id = $1`

	if err := r.client.Querier(ctx).GetContext(ctx, &line, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("product line not found").
				WithHintf("Product line with ID %s was not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get product line").
			Mark(ierr.ErrDatabase)
	}
	return &line, nil
}

func (r *subscriptionRepository) UpdateProductLine(ctx context.Context, line *subscription.ProductLine) error {
	query := `
		UPDATE subscription_product_lines SET
			quantity = :quantity,
			discount_amount = :discount_amount,
			total_price = :total_price,
			removal_date = :removal_date,
			last_billed_date = :last_billed_date,
			trial_end_date = :trial_end_date,
			usage_limit = :usage_limit,
			status = :status,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id`

	if _, err := r.client.Querier(ctx).NamedExecContext(ctx, query, line); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update product line").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) ListProductLines(ctx context.Context, subscriptionID string) ([]*subscription.ProductLine, error) {
	query := `SELECT ` + productLineColumns + `
		FROM subscription_product_lines
		WHERE subscription_id = $1 AND status != $2
		ORDER BY added_date ASC`

	lines := make([]*subscription.ProductLine, 0)
	if err := r.client.Querier(ctx).SelectContext(ctx, &lines, query, subscriptionID, types.StatusDeleted); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list product lines").
			Mark(ierr.ErrDatabase)
	}
	return lines, nil
}
