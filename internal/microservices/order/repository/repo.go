package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"restohub/internal/domain"
	"restohub/internal/pricing"
)

// OrderRepositoryInterface is the persistence contract for the order
// aggregate. Save performs an optimistic compare-and-swap on the version
// column and emits the change-feed notification inside the transaction.
type OrderRepositoryInterface interface {
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	Save(ctx context.Context, o *domain.Order) error
	Delete(ctx context.Context, id uuid.UUID) error
	NextOrderSequence(ctx context.Context, day time.Time) (int, error)
	DueScheduled(ctx context.Context, now time.Time) ([]*domain.Order, error)
	MarkPromotionFailed(ctx context.Context, id uuid.UUID) error
}

// CatalogItem is the read contract for menu lookups during pricing.
type CatalogItem struct {
	ID     string
	Name   string
	Price  float64
	TaxRef string
}

// CatalogLookupInterface resolves catalog item references. Absence of a
// referenced id is tolerated by the pricing policy, not here.
type CatalogLookupInterface interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]CatalogItem, error)
}

// TaxLookupInterface resolves tax definition references.
type TaxLookupInterface interface {
	FindByIDs(ctx context.Context, refs []string) (map[string]pricing.TaxDef, error)
}

// DiscountLookupInterface resolves discount definition references.
type DiscountLookupInterface interface {
	FindByIDs(ctx context.Context, refs []string) (map[string]pricing.DiscountDef, error)
}

// TableReleaserInterface flips a table back to available when an order
// completes. Invoked by the service as a transition side effect.
type TableReleaserInterface interface {
	Release(ctx context.Context, table string) error
}

func New(db *pgxpool.Pool, tenant string) *OrderRepository {
	return &OrderRepository{db: db, tenant: tenant}
}

func NewCatalog(db *pgxpool.Pool) *CatalogRepository   { return &CatalogRepository{db: db} }
func NewTaxes(db *pgxpool.Pool) *TaxRepository         { return &TaxRepository{db: db} }
func NewDiscounts(db *pgxpool.Pool) *DiscountRepository { return &DiscountRepository{db: db} }
func NewTables(db *pgxpool.Pool) *TableRepository      { return &TableRepository{db: db} }
