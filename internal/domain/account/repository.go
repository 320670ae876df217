package account

import "context"

// Repository provides read access to accounts. Account management is
// owned elsewhere; the billing domain only needs lookups.
type Repository interface {
	Get(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
}
