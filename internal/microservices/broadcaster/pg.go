package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"

	"restohub/internal/common/logger"
	"restohub/internal/connections/database"
	"restohub/internal/domain"
	"restohub/internal/microservices/order/repository"
)

const changeChannel = "order_changes"

// PgFeed listens on the tenant database's notification channel. Each
// Listen call pins one pooled connection for the lifetime of the watch.
type PgFeed struct {
	registry *database.Registry
	lg       *logger.Logger
}

func NewPgFeed(registry *database.Registry, lg *logger.Logger) *PgFeed {
	return &PgFeed{registry: registry, lg: lg}
}

func (f *PgFeed) Listen(ctx context.Context, tenant string) (<-chan domain.ChangeEvent, error) {
	h, err := f.registry.Acquire(ctx, tenant)
	if err != nil {
		return nil, err
	}
	conn, err := h.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring feed connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listening on %s: %w", changeChannel, err)
	}

	ch := make(chan domain.ChangeEvent)
	go func() {
		defer close(ch)
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					f.lg.Error("feed_wait_failed", err, map[string]any{"tenant": tenant})
				}
				return
			}
			var ev domain.ChangeEvent
			if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
				f.lg.Error("feed_decode_failed", err, map[string]any{"tenant": tenant, "payload": n.Payload})
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// PgLoader resolves change events to full orders through the per-tenant
// order store.
type PgLoader struct {
	stores repository.StoreProviderInterface
}

func NewPgLoader(stores repository.StoreProviderInterface) *PgLoader {
	return &PgLoader{stores: stores}
}

func (l *PgLoader) Load(ctx context.Context, tenant, number string) (*domain.Order, error) {
	st, err := l.stores.For(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return st.Orders.GetByNumber(ctx, number)
}

// RegistryRefs maps broadcaster joins onto the tenant handle's
// subscriber reference count.
type RegistryRefs struct {
	registry *database.Registry
}

func NewRegistryRefs(registry *database.Registry) *RegistryRefs {
	return &RegistryRefs{registry: registry}
}

func (r *RegistryRefs) Retain(ctx context.Context, tenant string) error {
	h, err := r.registry.Acquire(ctx, tenant)
	if err != nil {
		return err
	}
	h.Retain()
	return nil
}

func (r *RegistryRefs) Release(tenant string) {
	r.registry.ReleaseRef(tenant)
}
