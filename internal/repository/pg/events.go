package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/renewly/renewly/internal/domain/events"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/postgres"
	"github.com/renewly/renewly/internal/types"
)

type eventRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewEventRepository(client postgres.IClient, log *logger.Logger) events.Repository {
	return &eventRepository{client: client, logger: log}
}

const eventColumns = `
	id, subscription_id, event_type, category, severity, event_date, description,
	event_data, previous_values, triggered_by, user_id, is_error, error_message,
	customer_notified, notified_date, webhook_sent, webhook_sent_date,
	status, created_at, updated_at, created_by, updated_by`

func (r *eventRepository) Create(ctx context.Context, event *events.SubscriptionEvent) error {
	query := `
		INSERT INTO subscription_events (` + eventColumns + `)
		VALUES (
			:id, :subscription_id, :event_type, :category, :severity, :event_date, :description,
			:event_data, :previous_values, :triggered_by, :user_id, :is_error, :error_message,
			:customer_notified, :notified_date, :webhook_sent, :webhook_sent_date,
			:status, :created_at, :updated_at, :created_by, :updated_by
		)`

	if _, err := r.client.Querier(ctx).NamedExecContext(ctx, query, event); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to record subscription event").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *eventRepository) Get(ctx context.Context, id string) (*events.SubscriptionEvent, error) {
	var event events.SubscriptionEvent
	query := `SELECT ` + eventColumns + ` FROM subscription_events WHERE id = $1`

	if err := r.client.Querier(ctx).GetContext(ctx, &event, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("event not found").
				WithHintf("Event with ID %s was not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get event").
			Mark(ierr.ErrDatabase)
	}
	return &event, nil
}

func (r *eventRepository) List(ctx context.Context, filter *types.EventFilter) ([]*events.SubscriptionEvent, error) {
	where, args := buildEventWhere(filter)
	query := `SELECT ` + eventColumns + ` FROM subscription_events ` + where

	sort := filter.GetSort()
	if sort == types.FILTER_DEFAULT_SORT {
		sort = "event_date"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sanitizeSort(sort), sanitizeOrder(filter.GetOrder()))
	if !filter.IsUnlimited() {
		args = append(args, filter.GetLimit(), filter.GetOffset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	result := make([]*events.SubscriptionEvent, 0)
	if err := r.client.Querier(ctx).SelectContext(ctx, &result, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscription events").
			Mark(ierr.ErrDatabase)
	}
	return result, nil
}

func (r *eventRepository) Count(ctx context.Context, filter *types.EventFilter) (int, error) {
	where, args := buildEventWhere(filter)
	query := `SELECT COUNT(*) FROM subscription_events ` + where

	var count int
	if err := r.client.Querier(ctx).GetContext(ctx, &count, query, args...); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count subscription events").
			Mark(ierr.ErrDatabase)
	}
	return count, nil
}

func buildEventWhere(filter *types.EventFilter) (string, []interface{}) {
	clauses := []string{"status = $1"}
	args := []interface{}{filter.GetStatus()}

	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.SubscriptionID != nil {
		add("subscription_id = $%d", *filter.SubscriptionID)
	}
	if filter.EventType != nil {
		add("event_type = $%d", *filter.EventType)
	}
	if filter.Category != nil {
		add("category = $%d", *filter.Category)
	}
	if filter.Severity != nil {
		add("severity = $%d", *filter.Severity)
	}
	if filter.ErrorsOnly {
		clauses = append(clauses, "is_error = TRUE")
	}
	if filter.TimeRangeFilter != nil {
		if filter.StartTime != nil {
			add("event_date >= $%d", *filter.StartTime)
		}
		if filter.EndTime != nil {
			add("event_date <= $%d", *filter.EndTime)
		}
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (r *eventRepository) MarkCustomerNotified(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE subscription_events
		SET customer_notified = TRUE, notified_date = $1, updated_at = $1
		WHERE id = $2`

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query, at, id); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to mark event as notified").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *eventRepository) MarkWebhookSent(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE subscription_events
		SET webhook_sent = TRUE, webhook_sent_date = $1, updated_at = $1
		WHERE id = $2`

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query, at, id); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to mark event webhook as sent").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *eventRepository) ListPendingWebhooks(ctx context.Context, limit int) ([]*events.SubscriptionEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM subscription_events
		WHERE status = $1 AND is_error = FALSE AND webhook_sent = FALSE
		ORDER BY event_date ASC
		LIMIT $2`

	result := make([]*events.SubscriptionEvent, 0)
	if err := r.client.Querier(ctx).SelectContext(ctx, &result, query, types.StatusPublished, limit); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list pending webhook events").
			Mark(ierr.ErrDatabase)
	}
	return result, nil
}
