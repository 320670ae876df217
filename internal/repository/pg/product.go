package pg

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"

	"github.com/renewly/renewly/internal/domain/product"
	ierr "github.com/renewly/renewly/internal/errors"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/postgres"
)

type productRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewProductRepository(client postgres.IClient, log *logger.Logger) product.Repository {
	return &productRepository{client: client, logger: log}
}

const productColumns = `
	id, name, sku, description, unit_price, currency,
	status, created_at, updated_at, created_by, updated_by`

func (r *productRepository) Get(ctx context.Context, id string) (*product.Product, error) {
	var prod product.Product
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	if err := r.client.Querier(ctx).GetContext(ctx, &prod, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("product not found").
				WithHintf("Product with ID %s was not found", id).
				WithReportableDetails(map[string]any{
					"product_id": id,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get product").
			Mark(ierr.ErrDatabase)
	}
	return &prod, nil
}

func (r *productRepository) GetBySKU(ctx context.Context, sku string) (*product.Product, error) {
	var prod product.Product
	query := `SELECT ` + productColumns + ` FROM products WHERE sku = $1`

	if err := r.client.Querier(ctx).GetContext(ctx, &prod, query, sku); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.NewError("product not found").
				WithHintf("Product with SKU %s was not found", sku).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get product").
			Mark(ierr.ErrDatabase)
	}
	return &prod, nil
}

func (r *productRepository) List(ctx context.Context, ids []string) ([]*product.Product, error) {
	products := make([]*product.Product, 0)
	if len(ids) == 0 {
		return products, nil
	}

	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to build product query").
			Mark(ierr.ErrDatabase)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	if err := r.client.Querier(ctx).SelectContext(ctx, &products, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list products").
			Mark(ierr.ErrDatabase)
	}
	return products, nil
}
