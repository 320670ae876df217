package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/renewly/renewly/internal/config"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/types"
)

// Querier is the subset of sqlx used by repositories. Both *sqlx.DB and
// *sqlx.Tx satisfy it, so repository code is transaction-agnostic.
type Querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sqlxResult, error)
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sqlxResult, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

type sqlxResult interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// IClient hands repositories a querier bound to the ambient transaction
// when one is stored in the context, and runs transactional closures.
type IClient interface {
	Querier(ctx context.Context) Querier
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	DB() *sqlx.DB
}

type client struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewClient opens a pooled connection to postgres
func NewClient(cfg *config.Configuration, log *logger.Logger) (IClient, error) {
	db, err := sqlx.Connect("postgres", cfg.Postgres.GetDSN())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to connect to postgres").
			Mark(ierr.ErrDatabase)
	}

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	return &client{db: db, logger: log}, nil
}

// NewClientWithDB wraps an existing connection, used by tests
func NewClientWithDB(db *sqlx.DB, log *logger.Logger) IClient {
	return &client{db: db, logger: log}
}

func (c *client) DB() *sqlx.DB {
	return c.db
}

// Querier returns the transaction stored in the context if the call is
// inside WithTx, otherwise the pooled connection.
func (c *client) Querier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(types.CtxDBTransaction).(*sqlx.Tx); ok {
		return txQuerier{tx}
	}
	return dbQuerier{c.db}
}

// WithTx runs fn inside a transaction. Nested calls join the ambient
// transaction instead of opening a new one.
func (c *client) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(types.CtxDBTransaction).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to begin transaction").
			Mark(ierr.ErrDatabase)
	}

	txCtx := context.WithValue(ctx, types.CtxDBTransaction, tx)

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Errorw("failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to commit transaction").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

type dbQuerier struct {
	db *sqlx.DB
}

func (q dbQuerier) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return q.db.GetContext(ctx, dest, query, args...)
}

func (q dbQuerier) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return q.db.SelectContext(ctx, dest, query, args...)
}

func (q dbQuerier) ExecContext(ctx context.Context, query string, args ...interface{}) (sqlxResult, error) {
	return q.db.ExecContext(ctx, query, args...)
}

func (q dbQuerier) NamedExecContext(ctx context.Context, query string, arg interface{}) (sqlxResult, error) {
	return q.db.NamedExecContext(ctx, query, arg)
}

func (q dbQuerier) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	return q.db.QueryRowxContext(ctx, query, args...)
}

type txQuerier struct {
	tx *sqlx.Tx
}

func (q txQuerier) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return q.tx.GetContext(ctx, dest, query, args...)
}

func (q txQuerier) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return q.tx.SelectContext(ctx, dest, query, args...)
}

func (q txQuerier) ExecContext(ctx context.Context, query string, args ...interface{}) (sqlxResult, error) {
	return q.tx.ExecContext(ctx, query, args...)
}

func (q txQuerier) NamedExecContext(ctx context.Context, query string, arg interface{}) (sqlxResult, error) {
	return q.tx.NamedExecContext(ctx, query, arg)
}

func (q txQuerier) QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	return q.tx.QueryRowxContext(ctx, query, args...)
}
