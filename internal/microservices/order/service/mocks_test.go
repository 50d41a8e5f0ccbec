package service_test

import (
	"context"
	"time"

	"github.com/gofrs/uuid"

	"restohub/internal/common/config"
	"restohub/internal/domain"
	"restohub/internal/microservices/order/repository"
	"restohub/internal/pricing"
)

type mockOrders struct {
	createFunc    func(ctx context.Context, o *domain.Order) error
	getFunc       func(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	getByNumFunc  func(ctx context.Context, number string) (*domain.Order, error)
	saveFunc      func(ctx context.Context, o *domain.Order) error
	deleteFunc    func(ctx context.Context, id uuid.UUID) error
	nextSeqFunc   func(ctx context.Context, day time.Time) (int, error)
	dueFunc       func(ctx context.Context, now time.Time) ([]*domain.Order, error)
	markFailFunc  func(ctx context.Context, id uuid.UUID) error
}

func (m *mockOrders) Create(ctx context.Context, o *domain.Order) error { return m.createFunc(ctx, o) }
func (m *mockOrders) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return m.getFunc(ctx, id)
}
func (m *mockOrders) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return m.getByNumFunc(ctx, number)
}
func (m *mockOrders) Save(ctx context.Context, o *domain.Order) error { return m.saveFunc(ctx, o) }
func (m *mockOrders) Delete(ctx context.Context, id uuid.UUID) error  { return m.deleteFunc(ctx, id) }
func (m *mockOrders) NextOrderSequence(ctx context.Context, day time.Time) (int, error) {
	return m.nextSeqFunc(ctx, day)
}
func (m *mockOrders) DueScheduled(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	return m.dueFunc(ctx, now)
}
func (m *mockOrders) MarkPromotionFailed(ctx context.Context, id uuid.UUID) error {
	return m.markFailFunc(ctx, id)
}

type mockCatalog struct {
	items map[string]repository.CatalogItem
}

func (m *mockCatalog) FindByIDs(_ context.Context, ids []string) (map[string]repository.CatalogItem, error) {
	out := map[string]repository.CatalogItem{}
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

type mockTaxes struct {
	defs map[string]pricing.TaxDef
}

func (m *mockTaxes) FindByIDs(_ context.Context, refs []string) (map[string]pricing.TaxDef, error) {
	out := map[string]pricing.TaxDef{}
	for _, ref := range refs {
		if d, ok := m.defs[ref]; ok {
			out[ref] = d
		}
	}
	return out, nil
}

type mockDiscounts struct {
	defs map[string]pricing.DiscountDef
}

func (m *mockDiscounts) FindByIDs(_ context.Context, refs []string) (map[string]pricing.DiscountDef, error) {
	out := map[string]pricing.DiscountDef{}
	for _, ref := range refs {
		if d, ok := m.defs[ref]; ok {
			out[ref] = d
		}
	}
	return out, nil
}

type mockTables struct {
	released []string
	err      error
}

func (m *mockTables) Release(_ context.Context, table string) error {
	m.released = append(m.released, table)
	return m.err
}

type mockKitchen struct {
	dispatched []domain.KitchenDispatch
	err        error
}

func (m *mockKitchen) DispatchKitchen(_ context.Context, msg domain.KitchenDispatch) error {
	m.dispatched = append(m.dispatched, msg)
	return m.err
}

type mockStores struct {
	stores repository.Stores
	err    error
}

func (m *mockStores) For(_ context.Context, _ string) (repository.Stores, error) {
	return m.stores, m.err
}

type mockSettings struct {
	byTenant map[string]config.TenantSettings
}

func (m *mockSettings) Settings(tenant string) (config.TenantSettings, bool) {
	s, ok := m.byTenant[domain.NormalizeTenant(tenant)]
	return s, ok
}
