package testutil

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/postgres"
)

// MockPostgresClient satisfies postgres.IClient for service tests. The
// in-memory stores are not transactional, so WithTx simply runs the
// closure.
type MockPostgresClient struct {
	logger *logger.Logger
}

func NewMockPostgresClient(log *logger.Logger) postgres.IClient {
	return &MockPostgresClient{logger: log}
}

func (m *MockPostgresClient) Querier(ctx context.Context) postgres.Querier {
	return nil
}

func (m *MockPostgresClient) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *MockPostgresClient) DB() *sqlx.DB {
	return nil
}
