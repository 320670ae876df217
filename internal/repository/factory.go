package repository

import (
	"github.com/renewly/renewly/internal/domain/account"
	"github.com/renewly/renewly/internal/domain/events"
	"github.com/renewly/renewly/internal/domain/invoice"
	"github.com/renewly/renewly/internal/domain/product"
	"github.com/renewly/renewly/internal/domain/subscription"
	"github.com/renewly/renewly/internal/logger"
	"github.com/renewly/renewly/internal/postgres"
	"github.com/renewly/renewly/internal/repository/pg"
)

func NewSubscriptionRepository(client postgres.IClient, log *logger.Logger) subscription.Repository {
	return pg.NewSubscriptionRepository(client, log)
}

func NewInvoiceRepository(client postgres.IClient, log *logger.Logger) invoice.Repository {
	return pg.NewInvoiceRepository(client, log)
}

func NewEventRepository(client postgres.IClient, log *logger.Logger) events.Repository {
	return pg.NewEventRepository(client, log)
}

func NewAccountRepository(client postgres.IClient, log *logger.Logger) account.Repository {
	return pg.NewAccountRepository(client, log)
}

func NewProductRepository(client postgres.IClient, log *logger.Logger) product.Repository {
	return pg.NewProductRepository(client, log)
}
