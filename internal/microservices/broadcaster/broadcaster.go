// Package broadcaster maintains one change-feed subscription per watched
// tenant and republishes committed order mutations to table, group-cart
// and tenant-wide subscriber topics.
package broadcaster

import (
	"context"
	"fmt"
	"sync"

	"restohub/internal/common/logger"
	"restohub/internal/domain"
)

// TransportInterface is the fire-and-forget notification transport.
// No delivery acknowledgment is required from publishers.
type TransportInterface interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// FeedInterface streams committed mutations for one tenant. The returned
// channel closes on feed failure or ctx cancellation.
type FeedInterface interface {
	Listen(ctx context.Context, tenant string) (<-chan domain.ChangeEvent, error)
}

// LoaderInterface fetches the full order behind a change event.
type LoaderInterface interface {
	Load(ctx context.Context, tenant, number string) (*domain.Order, error)
}

// HandleRefsInterface ties the watch lifecycle to the tenant handle's
// subscriber reference count. May be nil in tests.
type HandleRefsInterface interface {
	Retain(ctx context.Context, tenant string) error
	Release(tenant string)
}

// Topic name construction; identifiers are normalized first so equivalent
// forms route to the same topic.
func TopicTable(tenant, table string) string {
	return fmt.Sprintf("table:%s:%s", domain.NormalizeTenant(tenant), domain.NormalizeTable(tenant, table))
}

func TopicGroup(tenant, table string) string {
	return fmt.Sprintf("group:%s:%s", domain.NormalizeTenant(tenant), domain.NormalizeTable(tenant, table))
}

func TopicRestaurant(tenant string) string {
	return fmt.Sprintf("restaurant:%s", domain.NormalizeTenant(tenant))
}

type watch struct {
	cancel context.CancelFunc
	refs   int
}

type Broadcaster struct {
	feed      FeedInterface
	transport TransportInterface
	loader    LoaderInterface
	refs      HandleRefsInterface
	lg        *logger.Logger

	mu      sync.Mutex
	watches map[string]*watch
}

func New(feed FeedInterface, transport TransportInterface, loader LoaderInterface, refs HandleRefsInterface, lg *logger.Logger) *Broadcaster {
	return &Broadcaster{
		feed:      feed,
		transport: transport,
		loader:    loader,
		refs:      refs,
		lg:        lg,
		watches:   make(map[string]*watch),
	}
}

// Join registers one subscriber for a tenant. The first join establishes
// the feed subscription; later joins only bump the reference count, so a
// second join for an already-watched tenant is a no-op at this layer.
func (b *Broadcaster) Join(ctx context.Context, tenant string) error {
	tenant = domain.NormalizeTenant(tenant)

	b.mu.Lock()
	if w, ok := b.watches[tenant]; ok {
		w.refs++
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if b.refs != nil {
		if err := b.refs.Retain(ctx, tenant); err != nil {
			return &domain.SubscriptionError{Tenant: tenant, Err: err}
		}
	}

	wctx, cancel := context.WithCancel(context.Background())
	ch, err := b.feed.Listen(wctx, tenant)
	if err != nil {
		cancel()
		if b.refs != nil {
			b.refs.Release(tenant)
		}
		return &domain.SubscriptionError{Tenant: tenant, Err: err}
	}

	b.mu.Lock()
	// A concurrent Join may have won; fold into its watch.
	if w, ok := b.watches[tenant]; ok {
		w.refs++
		b.mu.Unlock()
		cancel()
		if b.refs != nil {
			b.refs.Release(tenant)
		}
		return nil
	}
	b.watches[tenant] = &watch{cancel: cancel, refs: 1}
	b.mu.Unlock()

	go b.consume(wctx, tenant, ch)
	b.lg.Info("feed_subscribed", map[string]any{"tenant": tenant})
	return nil
}

// Leave drops one subscriber; the subscription is torn down at zero.
func (b *Broadcaster) Leave(tenant string) {
	tenant = domain.NormalizeTenant(tenant)
	b.mu.Lock()
	w, ok := b.watches[tenant]
	if !ok {
		b.mu.Unlock()
		return
	}
	w.refs--
	if w.refs > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.watches, tenant)
	b.mu.Unlock()

	w.cancel()
	if b.refs != nil {
		b.refs.Release(tenant)
	}
	b.lg.Info("feed_unsubscribed", map[string]any{"tenant": tenant})
}

// Watching reports whether a live subscription exists for the tenant.
func (b *Broadcaster) Watching(tenant string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.watches[domain.NormalizeTenant(tenant)]
	return ok
}

// consume drains the feed until it closes. A closed feed outside ctx
// cancellation is a feed error: the subscription is torn down and not
// auto-restarted; the next Join re-establishes it.
func (b *Broadcaster) consume(ctx context.Context, tenant string, ch <-chan domain.ChangeEvent) {
	for ev := range ch {
		b.republish(ctx, tenant, ev)
	}
	if ctx.Err() == nil {
		b.lg.Error("feed_lost", &domain.SubscriptionError{Tenant: tenant, Err: fmt.Errorf("change feed closed")},
			map[string]any{"tenant": tenant})
	}
	b.mu.Lock()
	w, ok := b.watches[tenant]
	if ok {
		delete(b.watches, tenant)
	}
	b.mu.Unlock()
	// Leave already released the handle when it removed the watch.
	if ok {
		w.cancel()
		if b.refs != nil {
			b.refs.Release(tenant)
		}
	}
}

func (b *Broadcaster) republish(ctx context.Context, tenant string, ev domain.ChangeEvent) {
	if ev.Op == domain.ChangeDelete {
		removed := domain.RemovedPayload{OrderID: ev.OrderID, Removed: true}
		if ev.TableNumber != "" {
			b.publish(ctx, TopicTable(tenant, ev.TableNumber), removed)
			b.publish(ctx, TopicGroup(tenant, ev.TableNumber), removed)
		}
		b.publish(ctx, TopicRestaurant(tenant), removed)
		return
	}

	o, err := b.loader.Load(ctx, tenant, ev.OrderID)
	if err != nil {
		b.lg.Error("feed_load_failed", err, map[string]any{"tenant": tenant, "order_number": ev.OrderID})
		return
	}
	if o.TableNumber != nil {
		b.publish(ctx, TopicTable(tenant, *o.TableNumber), o)
		b.publish(ctx, TopicGroup(tenant, *o.TableNumber), domain.NewGroupCartPayload(o))
	}
	b.publish(ctx, TopicRestaurant(tenant), domain.NewGridPayload(o))
}

func (b *Broadcaster) publish(ctx context.Context, topic string, payload any) {
	if err := b.transport.Publish(ctx, topic, payload); err != nil {
		b.lg.Error("publish_failed", err, map[string]any{"topic": topic})
	}
}
