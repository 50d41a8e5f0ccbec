package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"restohub/internal/domain"
)

// changeChannel is the LISTEN/NOTIFY channel carrying committed order
// mutations, one channel per tenant database.
const changeChannel = "order_changes"

type OrderRepository struct {
	db     *pgxpool.Pool
	tenant string
}

const orderColumns = `
	id, number, tenant, type, customer_name, table_number, group_session,
	items, tax_refs, taxes, discounts, payments, history,
	subtotal, tax_total, discount_total, tip, delivery_charge, final_charge,
	total_paid, balance_due, payment_status, status, kds_status,
	scheduled, scheduled_time, scheduled_status, preparation_started_at,
	version, created_at, updated_at`

func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Version = 1

	items, taxRefs, taxes, discounts, payments, history, err := marshalAggregates(o)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,
		        $20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
	`,
		o.ID, o.Number, o.Tenant, o.Type, nullIfEmpty(o.CustomerName), o.TableNumber, o.GroupSession,
		items, taxRefs, taxes, discounts, payments, history,
		o.Subtotal, o.TaxTotal, o.DiscountTotal, o.Tip, o.DeliveryCharge, o.FinalCharge,
		o.TotalPaid, o.BalanceDue, o.PaymentStatus, o.Status, nullIfEmpty(o.KDSStatus),
		o.Scheduled, o.ScheduledTime, nullIfEmpty(string(o.ScheduledStatus)), o.PreparationStartedAt,
		o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if err := r.notify(ctx, tx, domain.ChangeInsert, o); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Save writes the whole aggregate guarded by a version compare-and-swap.
// A lost swap returns ErrVersionConflict so the caller can refetch and
// retry; nothing is partially written.
func (r *OrderRepository) Save(ctx context.Context, o *domain.Order) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	items, taxRefs, taxes, discounts, payments, history, err := marshalAggregates(o)
	if err != nil {
		return err
	}

	var newVersion int64
	var updatedAt time.Time
	err = tx.QueryRow(ctx, `
		UPDATE orders SET
			customer_name=$3, table_number=$4, group_session=$5,
			items=$6, tax_refs=$7, taxes=$8, discounts=$9, payments=$10, history=$11,
			subtotal=$12, tax_total=$13, discount_total=$14, tip=$15, delivery_charge=$16,
			final_charge=$17, total_paid=$18, balance_due=$19, payment_status=$20,
			status=$21, kds_status=$22,
			scheduled=$23, scheduled_time=$24, scheduled_status=$25, preparation_started_at=$26,
			version = version + 1, updated_at = now()
		WHERE id=$1 AND version=$2
		RETURNING version, updated_at
	`,
		o.ID, o.Version,
		nullIfEmpty(o.CustomerName), o.TableNumber, o.GroupSession,
		items, taxRefs, taxes, discounts, payments, history,
		o.Subtotal, o.TaxTotal, o.DiscountTotal, o.Tip, o.DeliveryCharge,
		o.FinalCharge, o.TotalPaid, o.BalanceDue, o.PaymentStatus,
		o.Status, nullIfEmpty(o.KDSStatus),
		o.Scheduled, o.ScheduledTime, nullIfEmpty(string(o.ScheduledStatus)), o.PreparationStartedAt,
	).Scan(&newVersion, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, o.ID).Scan(&exists); qerr != nil {
			return fmt.Errorf("conflict check: %w", qerr)
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	o.Version = newVersion
	o.UpdatedAt = updatedAt

	if err := r.notify(ctx, tx, domain.ChangeUpdate, o); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	return scanOrder(row)
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	row := r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE number=$1`, number)
	return scanOrder(row)
}

func (r *OrderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var number string
	var table *string
	err = tx.QueryRow(ctx, `DELETE FROM orders WHERE id=$1 RETURNING number, table_number`, id).
		Scan(&number, &table)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}

	ev := domain.ChangeEvent{Op: domain.ChangeDelete, Tenant: r.tenant, OrderID: number}
	if table != nil {
		ev.TableNumber = *table
	}
	if err := r.notifyEvent(ctx, tx, ev); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *OrderRepository) NextOrderSequence(ctx context.Context, day time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM orders WHERE created_at::date = $1::date`, day.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("order sequence: %w", err)
	}
	return count + 1, nil
}

// DueScheduled matches the promotion predicate; the pending scheduled
// status doubles as the idempotence guard.
func (r *OrderRepository) DueScheduled(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE scheduled
		  AND scheduled_status = $1
		  AND scheduled_time <= $2
		  AND status IN ($3, $4)
		ORDER BY scheduled_time
	`, domain.ScheduledPending, now.UTC(), domain.StatusPending, domain.StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("due scheduled: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// MarkPromotionFailed is an isolated flag write with no CAS: one order's
// failure must not abort the promotion batch.
func (r *OrderRepository) MarkPromotionFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE orders SET scheduled_status=$2, updated_at=now() WHERE id=$1`,
		id, domain.ScheduledFailed)
	return err
}

func (r *OrderRepository) notify(ctx context.Context, tx pgx.Tx, op string, o *domain.Order) error {
	ev := domain.ChangeEvent{Op: op, Tenant: r.tenant, OrderID: o.Number}
	if o.TableNumber != nil {
		ev.TableNumber = *o.TableNumber
	}
	return r.notifyEvent(ctx, tx, ev)
}

// notifyEvent rides the saving transaction so the broadcaster observes
// only committed mutations, in commit order.
func (r *OrderRepository) notifyEvent(ctx context.Context, tx pgx.Tx, ev domain.ChangeEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changeChannel, string(body)); err != nil {
		return fmt.Errorf("notify change feed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                                              domain.Order
		customer, kdsStatus, schedStatus               *string
		items, taxRefs, taxes, discounts, payments, history []byte
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.Tenant, &o.Type, &customer, &o.TableNumber, &o.GroupSession,
		&items, &taxRefs, &taxes, &discounts, &payments, &history,
		&o.Subtotal, &o.TaxTotal, &o.DiscountTotal, &o.Tip, &o.DeliveryCharge, &o.FinalCharge,
		&o.TotalPaid, &o.BalanceDue, &o.PaymentStatus, &o.Status, &kdsStatus,
		&o.Scheduled, &o.ScheduledTime, &schedStatus, &o.PreparationStartedAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if customer != nil {
		o.CustomerName = *customer
	}
	if kdsStatus != nil {
		o.KDSStatus = *kdsStatus
	}
	if schedStatus != nil {
		o.ScheduledStatus = domain.ScheduledStatus(*schedStatus)
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{items, &o.Items}, {taxRefs, &o.TaxRefs}, {taxes, &o.Taxes},
		{discounts, &o.Discounts}, {payments, &o.Payments}, {history, &o.History},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("decode order aggregate: %w", err)
		}
	}
	return &o, nil
}

func marshalAggregates(o *domain.Order) (items, taxRefs, taxes, discounts, payments, history []byte, err error) {
	for _, pair := range []struct {
		src any
		dst *[]byte
	}{
		{o.Items, &items}, {o.TaxRefs, &taxRefs}, {o.Taxes, &taxes},
		{o.Discounts, &discounts}, {o.Payments, &payments}, {o.History, &history},
	} {
		*pair.dst, err = json.Marshal(pair.src)
		if err != nil {
			return nil, nil, nil, nil, nil, nil, fmt.Errorf("encode order aggregate: %w", err)
		}
	}
	return items, taxRefs, taxes, discounts, payments, history, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
