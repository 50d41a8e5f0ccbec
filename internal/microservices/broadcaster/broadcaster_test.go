package broadcaster_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restohub/internal/common/logger"
	"restohub/internal/connections/redisbus"
	"restohub/internal/domain"
	"restohub/internal/microservices/broadcaster"
)

type fakeFeed struct {
	mu      sync.Mutex
	listens int
	err     error
	ch      chan domain.ChangeEvent
}

func (f *fakeFeed) Listen(ctx context.Context, tenant string) (<-chan domain.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.listens++
	f.ch = make(chan domain.ChangeEvent)
	ch := f.ch
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.ch == ch {
			close(ch)
			f.ch = nil
		}
	}()
	return ch, nil
}

func (f *fakeFeed) emit(ev domain.ChangeEvent) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- ev
}

// fail closes the live channel outside ctx cancellation, like a dropped
// database connection.
func (f *fakeFeed) fail() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.ch)
	f.ch = nil
}

func (f *fakeFeed) listenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens
}

type fakeLoader struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func (l *fakeLoader) Load(_ context.Context, _, number string) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[number]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

type fakeRefs struct {
	mu                 sync.Mutex
	retained, released int
}

func (r *fakeRefs) Retain(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retained++
	return nil
}

func (r *fakeRefs) Release(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released++
}

type capturingTransport struct {
	mu   sync.Mutex
	msgs map[string][]any
	done chan struct{} // signaled on every publish
}

func newCapturingTransport() *capturingTransport {
	return &capturingTransport{msgs: map[string][]any{}, done: make(chan struct{}, 64)}
}

func (c *capturingTransport) Publish(_ context.Context, topic string, payload any) error {
	c.mu.Lock()
	c.msgs[topic] = append(c.msgs[topic], payload)
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func (c *capturingTransport) waitPublishes(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.done:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for publish %d of %d", i+1, n)
		}
	}
}

func (c *capturingTransport) topic(topic string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[topic]
}

func table(s string) *string { return &s }

func testOrder() *domain.Order {
	return &domain.Order{
		Number:       "ORD_20250601_001",
		Tenant:       "cafe9",
		Type:         domain.TypeDineIn,
		CustomerName: "Ada",
		TableNumber:  table("t12"),
		Items: []domain.LineItem{
			{LineID: "l1", Name: "Burger", Quantity: 2, UnitPrice: 10},
		},
		Subtotal:    20,
		FinalCharge: 22,
		Status:      domain.StatusPreparing,
	}
}

type fixture struct {
	feed      *fakeFeed
	loader    *fakeLoader
	refs      *fakeRefs
	transport *capturingTransport
	b         *broadcaster.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		feed:      &fakeFeed{},
		loader:    &fakeLoader{orders: map[string]*domain.Order{"ORD_20250601_001": testOrder()}},
		refs:      &fakeRefs{},
		transport: newCapturingTransport(),
	}
	f.b = broadcaster.New(f.feed, f.transport, f.loader, f.refs, logger.New("test"))
	return f
}

func TestJoinLeave_Refcounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.b.Join(ctx, "cafe9"))
	require.NoError(t, f.b.Join(ctx, "Cafe9")) // same tenant, different casing
	assert.Equal(t, 1, f.feed.listenCount())
	assert.True(t, f.b.Watching("cafe9"))

	f.b.Leave("cafe9")
	assert.True(t, f.b.Watching("cafe9"))

	f.b.Leave("cafe9")
	assert.False(t, f.b.Watching("cafe9"))
	assert.Equal(t, 1, f.refs.retained)
	assert.Equal(t, 1, f.refs.released)
}

func TestJoin_FeedFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.feed.err = fmt.Errorf("connection refused")

	err := f.b.Join(context.Background(), "cafe9")
	var serr *domain.SubscriptionError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "cafe9", serr.Tenant)
	assert.False(t, f.b.Watching("cafe9"))
}

func TestUpdateEventFansOutToThreeTopics(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.b.Join(context.Background(), "cafe9"))
	defer f.b.Leave("cafe9")

	f.feed.emit(domain.ChangeEvent{Op: domain.ChangeUpdate, Tenant: "cafe9", OrderID: "ORD_20250601_001", TableNumber: "t12"})
	f.transport.waitPublishes(t, 3)

	full := f.transport.topic("table:cafe9:t12")
	require.Len(t, full, 1)
	assert.Equal(t, "ORD_20250601_001", full[0].(*domain.Order).Number)

	group := f.transport.topic("group:cafe9:t12")
	require.Len(t, group, 1)
	cart := group[0].(domain.GroupCartPayload)
	assert.Equal(t, 20.0, cart.Subtotal)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 20.0, cart.Items[0].LineTotal)

	grid := f.transport.topic("restaurant:cafe9")
	require.Len(t, grid, 1)
	g := grid[0].(domain.GridPayload)
	assert.Equal(t, "preparing", g.Status)
	assert.Equal(t, 22.0, g.Amount)
	assert.Equal(t, 2, g.ItemCount)
	assert.Equal(t, "t12", g.TableNumber)
}

func TestUpdateEvent_PrefixedTableRoutesToSameTopic(t *testing.T) {
	f := newFixture(t)
	o := testOrder()
	o.TableNumber = table("cafe9:t12")
	f.loader.orders["ORD_20250601_001"] = o

	require.NoError(t, f.b.Join(context.Background(), "cafe9"))
	defer f.b.Leave("cafe9")

	f.feed.emit(domain.ChangeEvent{Op: domain.ChangeUpdate, OrderID: "ORD_20250601_001"})
	f.transport.waitPublishes(t, 3)

	assert.Len(t, f.transport.topic("table:cafe9:t12"), 1)
	assert.Empty(t, f.transport.topic("table:cafe9:cafe9:t12"))
}

func TestUpdateEvent_NoTablePublishesGridOnly(t *testing.T) {
	f := newFixture(t)
	o := testOrder()
	o.TableNumber = nil
	f.loader.orders["ORD_20250601_001"] = o

	require.NoError(t, f.b.Join(context.Background(), "cafe9"))
	defer f.b.Leave("cafe9")

	f.feed.emit(domain.ChangeEvent{Op: domain.ChangeUpdate, OrderID: "ORD_20250601_001"})
	f.transport.waitPublishes(t, 1)

	assert.Len(t, f.transport.topic("restaurant:cafe9"), 1)
	assert.Empty(t, f.transport.topic("table:cafe9:t12"))
	assert.Empty(t, f.transport.topic("group:cafe9:t12"))
}

func TestDeleteEventPublishesRemoval(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.b.Join(context.Background(), "cafe9"))
	defer f.b.Leave("cafe9")

	f.feed.emit(domain.ChangeEvent{Op: domain.ChangeDelete, OrderID: "ORD_20250601_001", TableNumber: "t12"})
	f.transport.waitPublishes(t, 3)

	for _, topic := range []string{"table:cafe9:t12", "group:cafe9:t12", "restaurant:cafe9"} {
		msgs := f.transport.topic(topic)
		require.Len(t, msgs, 1, topic)
		removed := msgs[0].(domain.RemovedPayload)
		assert.Equal(t, "ORD_20250601_001", removed.OrderID)
		assert.True(t, removed.Removed)
	}
}

func TestFeedLoss_TearsDownUntilNextJoin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.b.Join(context.Background(), "cafe9"))

	f.feed.fail()
	require.Eventually(t, func() bool {
		return !f.b.Watching("cafe9")
	}, time.Second, 5*time.Millisecond)

	// No auto-restart: a new Join re-establishes the subscription.
	assert.Equal(t, 1, f.feed.listenCount())
	require.NoError(t, f.b.Join(context.Background(), "cafe9"))
	defer f.b.Leave("cafe9")
	assert.Equal(t, 2, f.feed.listenCount())
}

func TestRedisTransportEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "restaurant:cafe9")
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx) // wait for the subscription ack
	require.NoError(t, err)

	pub := redisbus.NewPublisher(rdb)
	require.NoError(t, pub.Publish(ctx, "restaurant:cafe9", domain.NewGridPayload(testOrder())))

	select {
	case msg := <-sub.Channel():
		var got domain.GridPayload
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, "ORD_20250601_001", got.OrderID)
		assert.Equal(t, "t12", got.TableNumber)
	case <-time.After(time.Second):
		t.Fatal("no message on the grid topic")
	}
}
