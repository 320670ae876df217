package testutil

import (
	"context"

	"github.com/renewly/renewly/internal/domain/account"
	"github.com/renewly/renewly/internal/domain/product"
	ierr "github.com/renewly/renewly/internal/errors"
)

// InMemoryAccountStore implements account.Repository
type InMemoryAccountStore struct {
	accounts *InMemoryStore[*account.Account]
}

func NewInMemoryAccountStore() *InMemoryAccountStore {
	return &InMemoryAccountStore{
		accounts: NewInMemoryStore[*account.Account](),
	}
}

func (s *InMemoryAccountStore) Clear() {
	s.accounts.Clear()
}

// Add seeds an account, test-only
func (s *InMemoryAccountStore) Add(ctx context.Context, acct *account.Account) error {
	c := *acct
	return s.accounts.Create(ctx, acct.ID, &c)
}

func (s *InMemoryAccountStore) Get(ctx context.Context, id string) (*account.Account, error) {
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("account not found").
			WithHintf("Account with ID %s was not found", id).
			Mark(ierr.ErrNotFound)
	}
	c := *acct
	return &c, nil
}

func (s *InMemoryAccountStore) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	result, err := s.accounts.List(ctx, nil, func(_ context.Context, acct *account.Account, _ interface{}) bool {
		return acct.Email == email
	}, nil)
	if err != nil || len(result) == 0 {
		return nil, ierr.NewError("account not found").
			WithHintf("Account with email %s was not found", email).
			Mark(ierr.ErrNotFound)
	}
	c := *result[0]
	return &c, nil
}

// InMemoryProductStore implements product.Repository
type InMemoryProductStore struct {
	products *InMemoryStore[*product.Product]
}

func NewInMemoryProductStore() *InMemoryProductStore {
	return &InMemoryProductStore{
		products: NewInMemoryStore[*product.Product](),
	}
}

func (s *InMemoryProductStore) Clear() {
	s.products.Clear()
}

// Add seeds a product, test-only
func (s *InMemoryProductStore) Add(ctx context.Context, prod *product.Product) error {
	c := *prod
	return s.products.Create(ctx, prod.ID, &c)
}

func (s *InMemoryProductStore) Get(ctx context.Context, id string) (*product.Product, error) {
	prod, err := s.products.Get(ctx, id)
	if err != nil {
		return nil, ierr.NewError("product not found").
			WithHintf("Product with ID %s was not found", id).
			Mark(ierr.ErrNotFound)
	}
	c := *prod
	return &c, nil
}

func (s *InMemoryProductStore) GetBySKU(ctx context.Context, sku string) (*product.Product, error) {
	result, err := s.products.List(ctx, nil, func(_ context.Context, prod *product.Product, _ interface{}) bool {
		return prod.SKU == sku
	}, nil)
	if err != nil || len(result) == 0 {
		return nil, ierr.NewError("product not found").
			WithHintf("Product with SKU %s was not found", sku).
			Mark(ierr.ErrNotFound)
	}
	c := *result[0]
	return &c, nil
}

func (s *InMemoryProductStore) List(ctx context.Context, ids []string) ([]*product.Product, error) {
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	result, err := s.products.List(ctx, nil, func(_ context.Context, prod *product.Product, _ interface{}) bool {
		_, ok := idSet[prod.ID]
		return ok
	}, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*product.Product, 0, len(result))
	for _, prod := range result {
		c := *prod
		out = append(out, &c)
	}
	return out, nil
}
