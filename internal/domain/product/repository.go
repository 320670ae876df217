package product

import "context"

// Repository provides read access to the product catalog
type Repository interface {
	Get(ctx context.Context, id string) (*Product, error)
	GetBySKU(ctx context.Context, sku string) (*Product, error)
	List(ctx context.Context, ids []string) ([]*Product, error)
}
