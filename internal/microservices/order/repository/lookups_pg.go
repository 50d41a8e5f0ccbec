package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"restohub/internal/pricing"
)

// CatalogRepository reads menu items for pricing recomputes.
type CatalogRepository struct {
	db *pgxpool.Pool
}

func (r *CatalogRepository) FindByIDs(ctx context.Context, ids []string) (map[string]CatalogItem, error) {
	if len(ids) == 0 {
		return map[string]CatalogItem{}, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, name, price, COALESCE(tax_ref, '')
		FROM menu_items WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	defer rows.Close()

	out := make(map[string]CatalogItem, len(ids))
	for rows.Next() {
		var it CatalogItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Price, &it.TaxRef); err != nil {
			return nil, err
		}
		out[it.ID] = it
	}
	return out, rows.Err()
}

// TaxRepository resolves tax definition references.
type TaxRepository struct {
	db *pgxpool.Pool
}

func (r *TaxRepository) FindByIDs(ctx context.Context, refs []string) (map[string]pricing.TaxDef, error) {
	if len(refs) == 0 {
		return map[string]pricing.TaxDef{}, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, name, percentage FROM tax_definitions WHERE id = ANY($1)
	`, refs)
	if err != nil {
		return nil, fmt.Errorf("tax lookup: %w", err)
	}
	defer rows.Close()

	out := make(map[string]pricing.TaxDef, len(refs))
	for rows.Next() {
		var d pricing.TaxDef
		if err := rows.Scan(&d.Ref, &d.Name, &d.Percent); err != nil {
			return nil, err
		}
		out[d.Ref] = d
	}
	return out, rows.Err()
}

// DiscountRepository resolves discount definition references.
type DiscountRepository struct {
	db *pgxpool.Pool
}

func (r *DiscountRepository) FindByIDs(ctx context.Context, refs []string) (map[string]pricing.DiscountDef, error) {
	if len(refs) == 0 {
		return map[string]pricing.DiscountDef{}, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, dtype, value FROM discount_definitions WHERE id = ANY($1)
	`, refs)
	if err != nil {
		return nil, fmt.Errorf("discount lookup: %w", err)
	}
	defer rows.Close()

	out := make(map[string]pricing.DiscountDef, len(refs))
	for rows.Next() {
		var d pricing.DiscountDef
		if err := rows.Scan(&d.Ref, &d.Type, &d.Value); err != nil {
			return nil, err
		}
		out[d.Ref] = d
	}
	return out, rows.Err()
}

// TableRepository applies the table-release intent emitted on completion.
type TableRepository struct {
	db *pgxpool.Pool
}

func (r *TableRepository) Release(ctx context.Context, table string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE tables SET status='available', order_number=NULL, updated_at=now()
		WHERE number=$1
	`, table)
	if err != nil {
		return fmt.Errorf("release table %s: %w", table, err)
	}
	return nil
}
