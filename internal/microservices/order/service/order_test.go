package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restohub/internal/common/config"
	"restohub/internal/common/logger"
	"restohub/internal/domain"
	"restohub/internal/microservices/order/repository"
	"restohub/internal/microservices/order/service"
	"restohub/internal/pricing"
	"restohub/internal/statemachine"
)

type fixture struct {
	orders  *mockOrders
	catalog *mockCatalog
	tables  *mockTables
	kitchen *mockKitchen
	svc     *service.OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	wf, err := domain.NewWorkflow([]string{"new", "cooking", "done"})
	require.NoError(t, err)

	f := &fixture{
		orders: &mockOrders{
			createFunc:  func(context.Context, *domain.Order) error { return nil },
			saveFunc:    func(context.Context, *domain.Order) error { return nil },
			nextSeqFunc: func(context.Context, time.Time) (int, error) { return 1, nil },
		},
		catalog: &mockCatalog{items: map[string]repository.CatalogItem{
			"burger": {ID: "burger", Name: "Burger", Price: 10.00, TaxRef: "vat"},
			"fries":  {ID: "fries", Name: "Fries", Price: 5.00},
		}},
		tables:  &mockTables{},
		kitchen: &mockKitchen{},
	}
	stores := &mockStores{stores: repository.Stores{
		Orders:  f.orders,
		Catalog: f.catalog,
		Taxes: &mockTaxes{defs: map[string]pricing.TaxDef{
			"vat": {Ref: "vat", Name: "VAT", Percent: 10},
		}},
		Discounts: &mockDiscounts{defs: map[string]pricing.DiscountDef{
			"welcome5": {Ref: "welcome5", Type: pricing.DiscountFixed, Value: 5},
		}},
		Tables: f.tables,
	}}
	settings := &mockSettings{byTenant: map[string]config.TenantSettings{
		"cafe9": {Workflow: wf, TaxMode: pricing.TaxModeOrder},
	}}
	f.svc = service.NewOrderService(stores, settings, f.kitchen, logger.New("test"))
	return f
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	var created *domain.Order
	f.orders.createFunc = func(_ context.Context, o *domain.Order) error {
		created = o
		return nil
	}

	o, err := f.svc.CreateOrder(context.Background(), "Cafe9", service.CreateOrderRequest{
		OrderType:    "dine_in",
		CustomerName: "Ada",
		Items: []service.ItemInput{
			{ItemRef: "burger", Quantity: 2},
			{ItemRef: "fries", Quantity: 1},
		},
		TaxRefs: []string{"vat"},
		Actor:   "waiter-1",
	})
	require.NoError(t, err)
	require.Same(t, o, created)

	assert.Equal(t, "cafe9", o.Tenant)
	assert.Regexp(t, `^ORD_\d{8}_001$`, o.Number)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, "new", o.KDSStatus)
	assert.Equal(t, domain.PaymentPending, o.PaymentStatus)

	// Catalog names and prices were captured at add time.
	require.Len(t, o.Items, 2)
	assert.Equal(t, "Burger", o.Items[0].Name)
	assert.Equal(t, 10.00, o.Items[0].UnitPrice)
	assert.NotEmpty(t, o.Items[0].LineID)

	assert.Equal(t, 25.00, o.Subtotal)
	assert.Equal(t, 2.50, o.TaxTotal)
	assert.Equal(t, 27.50, o.FinalCharge)

	require.Len(t, o.History, 1)
	assert.Equal(t, domain.StatusPending, o.History[0].Status)
	assert.Equal(t, "waiter-1", o.History[0].Actor)
}

func TestCreateOrder_ExplicitPriceWinsOverCatalog(t *testing.T) {
	f := newFixture(t)
	price := 7.77

	o, err := f.svc.CreateOrder(context.Background(), "cafe9", service.CreateOrderRequest{
		OrderType: "takeout",
		Items:     []service.ItemInput{{ItemRef: "burger", Quantity: 1, UnitPrice: &price}},
	})
	require.NoError(t, err)
	assert.Equal(t, 7.77, o.Items[0].UnitPrice)
}

func TestCreateOrder_UnknownItemWithoutPrice(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), "cafe9", service.CreateOrderRequest{
		OrderType: "takeout",
		Items:     []service.ItemInput{{ItemRef: "ghost-item", Quantity: 1}},
	})
	var perr *domain.PricingInputError
	require.ErrorAs(t, err, &perr)
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name string
		req  service.CreateOrderRequest
	}{
		{name: "bad_order_type", req: service.CreateOrderRequest{OrderType: "drive_through"}},
		{name: "scheduled_in_past", req: service.CreateOrderRequest{OrderType: "takeout", ScheduledAt: &past}},
		{name: "zero_quantity", req: service.CreateOrderRequest{
			OrderType: "takeout",
			Items:     []service.ItemInput{{ItemRef: "burger", Quantity: 0}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(context.Background(), "cafe9", tt.req)
			var perr *domain.PricingInputError
			require.ErrorAs(t, err, &perr)
		})
	}
}

func TestCreateOrder_ScheduledOrderStartsPendingPromotion(t *testing.T) {
	f := newFixture(t)
	at := time.Now().Add(2 * time.Hour)

	o, err := f.svc.CreateOrder(context.Background(), "cafe9", service.CreateOrderRequest{
		OrderType:   "takeout",
		Items:       []service.ItemInput{{ItemRef: "burger", Quantity: 1}},
		ScheduledAt: &at,
	})
	require.NoError(t, err)
	assert.True(t, o.Scheduled)
	assert.Equal(t, domain.ScheduledPending, o.ScheduledStatus)
	require.NotNil(t, o.ScheduledTime)
}

func TestCreateOrder_UpfrontPayment(t *testing.T) {
	f := newFixture(t)

	o, err := f.svc.CreateOrder(context.Background(), "cafe9", service.CreateOrderRequest{
		OrderType: "takeout",
		Items:     []service.ItemInput{{ItemRef: "fries", Quantity: 1}},
		Payment:   &service.PaymentInput{Method: "card", Amount: 5.00, Actor: "kiosk"},
	})
	require.NoError(t, err)
	assert.Equal(t, 5.00, o.TotalPaid)
	assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, 0.0, o.BalanceDue)
}

func TestCreateOrder_UnconfiguredTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), "nobody", service.CreateOrderRequest{OrderType: "takeout"})
	assert.Error(t, err)
}

func storedOrder() *domain.Order {
	id, _ := uuid.FromString("5695b1bf-6b04-4997-9d99-e7b7e8a0a326")
	return &domain.Order{
		ID:     id,
		Number: "ORD_20250601_001",
		Tenant: "cafe9",
		Type:   domain.TypeDineIn,
		Items: []domain.LineItem{
			{LineID: "l1", ItemRef: "burger", Name: "Burger", Quantity: 1, UnitPrice: 10.00},
		},
		Subtotal:    10.00,
		FinalCharge: 10.00,
		BalanceDue:  10.00,
		Status:      domain.StatusPending,
		Version:     3,
	}
}

func TestMutate_RetriesOnVersionConflict(t *testing.T) {
	f := newFixture(t)
	gets, saves := 0, 0
	f.orders.getFunc = func(context.Context, uuid.UUID) (*domain.Order, error) {
		gets++
		return storedOrder(), nil
	}
	f.orders.saveFunc = func(context.Context, *domain.Order) error {
		saves++
		if saves == 1 {
			return domain.ErrVersionConflict
		}
		return nil
	}

	o, err := f.svc.AddItems(context.Background(), "cafe9", storedOrder().ID,
		[]service.ItemInput{{ItemRef: "fries", Quantity: 1}}, "waiter-1")
	require.NoError(t, err)

	// The lost swap forces a fresh read before the winning save.
	assert.Equal(t, 2, gets)
	assert.Equal(t, 2, saves)
	assert.Len(t, o.Items, 2)
	assert.Equal(t, 15.00, o.FinalCharge)
}

func TestMutate_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	saves := 0
	f.orders.getFunc = func(context.Context, uuid.UUID) (*domain.Order, error) {
		return storedOrder(), nil
	}
	f.orders.saveFunc = func(context.Context, *domain.Order) error {
		saves++
		return domain.ErrVersionConflict
	}

	_, err := f.svc.AddItems(context.Background(), "cafe9", storedOrder().ID,
		[]service.ItemInput{{ItemRef: "fries", Quantity: 1}}, "waiter-1")
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Equal(t, 3, saves)
}

func TestMutate_NotFound(t *testing.T) {
	f := newFixture(t)
	f.orders.getFunc = func(context.Context, uuid.UUID) (*domain.Order, error) {
		return nil, domain.ErrOrderNotFound
	}
	_, err := f.svc.RecordPayment(context.Background(), "cafe9", storedOrder().ID,
		service.PaymentInput{Method: "cash", Amount: 5})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestAddItems_TerminalOrderRejected(t *testing.T) {
	f := newFixture(t)
	f.orders.getFunc = func(context.Context, uuid.UUID) (*domain.Order, error) {
		o := storedOrder()
		o.Status = domain.StatusCompleted
		return o, nil
	}
	_, err := f.svc.AddItems(context.Background(), "cafe9", storedOrder().ID,
		[]service.ItemInput{{ItemRef: "fries", Quantity: 1}}, "waiter-1")
	var terr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
}

func TestRecordPayment(t *testing.T) {
	f := newFixture(t)
	f.orders.getFunc = func(context.Context, uuid.UUID) (*domain.Order, error) {
		return storedOrder(), nil
	}

	o, err := f.svc.RecordPayment(context.Background(), "cafe9", storedOrder().ID,
		service.PaymentInput{Method: "cash", Amount: 4.00, Actor: "cashier"})
	require.NoError(t, err)
	assert.Equal(t, 4.00, o.TotalPaid)
	assert.Equal(t, 6.00, o.BalanceDue)
	assert.Equal(t, domain.PaymentPartiallyPaid, o.PaymentStatus)
	require.Len(t, o.Payments, 1)
	assert.Equal(t, "completed", o.Payments[0].Status)
}

func TestRecordPayment_ZeroAmountRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RecordPayment(context.Background(), "cafe9", storedOrder().ID,
		service.PaymentInput{Method: "cash", Amount: 0})
	var perr *domain.PricingInputError
	require.ErrorAs(t, err, &perr)
}

func TestRecordPayment_TerminalOrderRefundsOnly(t *testing.T) {
	f := newFixture(t)
	f.orders.getFunc = func(context.Context, uuid.UUID) (*domain.Order, error) {
		o := storedOrder()
		o.Status = domain.StatusCompleted
		o.TotalPaid = 10.00
		o.PaymentStatus = domain.PaymentPaid
		return o, nil
	}

	_, err := f.svc.RecordPayment(context.Background(), "cafe9", storedOrder().ID,
		service.PaymentInput{Method: "cash", Amount: 5.00})
	var terr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &terr)

	o, err := f.svc.RecordPayment(context.Background(), "cafe9", storedOrder().ID,
		service.PaymentInput{Method: "cash", Amount: -10.00, Actor: "manager"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, o.TotalPaid)
	assert.Equal(t, domain.PaymentPending, o.PaymentStatus)
	assert.Equal(t, "refunded", o.Payments[0].Status)
}

func TestApplyDiscount(t *testing.T) {
	f := newFixture(t)
	f.orders.getFunc = func(context.Context, uuid.UUID) (*domain.Order, error) {
		return storedOrder(), nil
	}

	o, err := f.svc.ApplyDiscount(context.Background(), "cafe9", storedOrder().ID,
		service.DiscountInput{Ref: "welcome5", Label: "Welcome"})
	require.NoError(t, err)
	assert.Equal(t, 5.00, o.DiscountTotal)
	assert.Equal(t, 5.00, o.FinalCharge)

	_, err = f.svc.ApplyDiscount(context.Background(), "cafe9", storedOrder().ID,
		service.DiscountInput{Label: "manual", Amount: 0})
	var perr *domain.PricingInputError
	require.ErrorAs(t, err, &perr)
}

func TestSetItemStatus(t *testing.T) {
	f := newFixture(t)
	f.orders.getFunc = func(context.Context, uuid.UUID) (*domain.Order, error) {
		return storedOrder(), nil
	}

	o, err := f.svc.SetItemStatus(context.Background(), "cafe9", storedOrder().ID, "l1", "cooking", "kds")
	require.NoError(t, err)
	assert.Equal(t, "cooking", o.Items[0].KitchenStatus)
	assert.Equal(t, "cooking", o.KDSStatus)

	_, err = f.svc.SetItemStatus(context.Background(), "cafe9", storedOrder().ID, "l1", "grilling", "kds")
	require.ErrorIs(t, err, domain.ErrUnknownItemStatus)

	_, err = f.svc.SetItemStatus(context.Background(), "cafe9", storedOrder().ID, "missing-line", "cooking", "kds")
	require.ErrorIs(t, err, domain.ErrLineNotFound)
}

func TestTransitionStatus_PreparingDispatchesKitchen(t *testing.T) {
	f := newFixture(t)
	f.orders.getFunc = func(context.Context, uuid.UUID) (*domain.Order, error) {
		o := storedOrder()
		o.Status = domain.StatusConfirmed
		return o, nil
	}

	o, err := f.svc.TransitionStatus(context.Background(), "cafe9", storedOrder().ID, domain.StatusPreparing, "kds")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPreparing, o.Status)
	require.Len(t, f.kitchen.dispatched, 1)
	assert.Equal(t, o.Number, f.kitchen.dispatched[0].OrderNumber)
}

func TestTransitionStatus_DispatchFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.kitchen.err = fmt.Errorf("broker down")
	f.orders.getFunc = func(context.Context, uuid.UUID) (*domain.Order, error) {
		o := storedOrder()
		o.Status = domain.StatusConfirmed
		return o, nil
	}

	o, err := f.svc.TransitionStatus(context.Background(), "cafe9", storedOrder().ID, domain.StatusPreparing, "kds")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPreparing, o.Status)
}

func TestTransitionStatus_CompletedReleasesTable(t *testing.T) {
	f := newFixture(t)
	table := "12"
	f.orders.getFunc = func(context.Context, uuid.UUID) (*domain.Order, error) {
		o := storedOrder()
		o.Status = domain.StatusServed
		o.TableNumber = &table
		return o, nil
	}

	_, err := f.svc.TransitionStatus(context.Background(), "cafe9", storedOrder().ID, domain.StatusCompleted, "cashier")
	require.NoError(t, err)
	assert.Equal(t, []string{"12"}, f.tables.released)
}

func TestTransitionStatus_InvalidEdge(t *testing.T) {
	f := newFixture(t)
	f.orders.getFunc = func(context.Context, uuid.UUID) (*domain.Order, error) {
		o := storedOrder()
		o.Status = domain.StatusReady
		return o, nil
	}

	_, err := f.svc.TransitionStatus(context.Background(), "cafe9", storedOrder().ID, domain.StatusConfirmed, "waiter-1")
	var terr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.False(t, statemachine.CanTransition(domain.StatusReady, domain.StatusConfirmed))
	assert.Empty(t, f.kitchen.dispatched)
}
