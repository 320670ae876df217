package pg

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"github.com/renewly/renewly/internal/domain/account"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/postgres"
)

type accountRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewAccountRepository(client postgres.IClient, log *logger.Logger) account.Repository {
	return &accountRepository{client: client, logger: log}
}

const accountColumns = `
	id, name, email, billing_address, currency,
	status, created_at, updated_at, created_by, updated_by`

func (r *accountRepository) Get(ctx context.Context, id string) (*account.Account, error) {
	var acct account.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	if err := r.client.Querier(ctx).GetContext(ctx, &acct, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("account not found").
				WithHintf("Account with ID %s was not found", id).
				WithReportableDetails(map[string]any{
					"account_id": id,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get account").
			Mark(ierr.ErrDatabase)
	}
	return &acct, nil
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	var acct account.Account
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`

	if err := r.client.Querier(ctx).GetContext(ctx, &acct, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("account not found").
				WithHintf("Account with email %s was not found", email).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get account").
			Mark(ierr.ErrDatabase)
	}
	return &acct, nil
}
