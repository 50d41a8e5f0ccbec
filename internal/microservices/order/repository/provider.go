package repository

import (
	"context"

	"restohub/internal/connections/database"
)

// Stores bundles the per-tenant persistence contracts handed to the
// service layer for one request.
type Stores struct {
	Orders    OrderRepositoryInterface
	Catalog   CatalogLookupInterface
	Taxes     TaxLookupInterface
	Discounts DiscountLookupInterface
	Tables    TableReleaserInterface
}

// StoreProviderInterface resolves a tenant to its stores. The pg-backed
// implementation acquires the tenant's handle from the registry; tests
// substitute fakes.
type StoreProviderInterface interface {
	For(ctx context.Context, tenant string) (Stores, error)
}

type Provider struct {
	registry *database.Registry
}

func NewProvider(registry *database.Registry) *Provider {
	return &Provider{registry: registry}
}

func (p *Provider) For(ctx context.Context, tenant string) (Stores, error) {
	h, err := p.registry.Acquire(ctx, tenant)
	if err != nil {
		return Stores{}, err
	}
	return Stores{
		Orders:    New(h.Pool, h.Tenant()),
		Catalog:   NewCatalog(h.Pool),
		Taxes:     NewTaxes(h.Pool),
		Discounts: NewDiscounts(h.Pool),
		Tables:    NewTables(h.Pool),
	}, nil
}
