package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"

	"restohub/internal/common/config"
	"restohub/internal/common/logger"
	"restohub/internal/domain"
	"restohub/internal/kds"
	"restohub/internal/microservices/order/repository"
	"restohub/internal/pricing"
	"restohub/internal/statemachine"
)

// maxSaveAttempts bounds the refetch-and-retry loop around the optimistic
// save. Two concurrent writers resolve on the second attempt; anything
// beyond that indicates a hot order and is surfaced to the caller.
const maxSaveAttempts = 3

// KitchenDispatcherInterface pushes an order into the kitchen pipeline.
type KitchenDispatcherInterface interface {
	DispatchKitchen(ctx context.Context, msg domain.KitchenDispatch) error
}

// SettingsProviderInterface resolves validated per-tenant settings.
type SettingsProviderInterface interface {
	Settings(tenant string) (config.TenantSettings, bool)
}

type OrderServiceInterface interface {
	CreateOrder(ctx context.Context, tenant string, req CreateOrderRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, tenant string, id uuid.UUID) (*domain.Order, error)
	AddItems(ctx context.Context, tenant string, id uuid.UUID, items []ItemInput, actor string) (*domain.Order, error)
	RecordPayment(ctx context.Context, tenant string, id uuid.UUID, p PaymentInput) (*domain.Order, error)
	ApplyDiscount(ctx context.Context, tenant string, id uuid.UUID, d DiscountInput) (*domain.Order, error)
	SetItemStatus(ctx context.Context, tenant string, id uuid.UUID, lineID, status, actor string) (*domain.Order, error)
	TransitionStatus(ctx context.Context, tenant string, id uuid.UUID, target domain.OrderStatus, actor string) (*domain.Order, error)
	DeleteOrder(ctx context.Context, tenant string, id uuid.UUID) error
}

type OrderService struct {
	stores   repository.StoreProviderInterface
	settings SettingsProviderInterface
	kitchen  KitchenDispatcherInterface
	lg       *logger.Logger
	now      func() time.Time
}

func NewOrderService(stores repository.StoreProviderInterface, settings SettingsProviderInterface, kitchen KitchenDispatcherInterface, lg *logger.Logger) *OrderService {
	return &OrderService{
		stores:   stores,
		settings: settings,
		kitchen:  kitchen,
		lg:       lg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *OrderService) tenantSettings(tenant string) (config.TenantSettings, error) {
	set, ok := s.settings.Settings(tenant)
	if !ok {
		return config.TenantSettings{}, fmt.Errorf("tenant %s is not configured", tenant)
	}
	return set, nil
}

func (s *OrderService) CreateOrder(ctx context.Context, tenant string, req CreateOrderRequest) (*domain.Order, error) {
	tenant = domain.NormalizeTenant(tenant)
	set, err := s.tenantSettings(tenant)
	if err != nil {
		return nil, err
	}
	st, err := s.stores.For(ctx, tenant)
	if err != nil {
		return nil, err
	}

	// 1. Basic validation.
	otype, err := domain.ParseOrderType(req.OrderType)
	if err != nil {
		return nil, &domain.PricingInputError{Reason: err.Error()}
	}
	if req.ScheduledAt != nil && !req.ScheduledAt.After(s.now()) {
		return nil, &domain.PricingInputError{Reason: "scheduled time must be in the future"}
	}

	// 2. Capture prices from the catalog for the initial items.
	items, err := s.buildLines(ctx, st, req.Items)
	if err != nil {
		return nil, err
	}

	// 3. Generate the human-readable order number (ORD_YYYYMMDD_NNN).
	now := s.now()
	seq, err := st.Orders.NextOrderSequence(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("order sequence: %w", err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	o := &domain.Order{
		ID:           id,
		Number:       fmt.Sprintf("ORD_%s_%03d", now.Format("20060102"), seq),
		Tenant:       tenant,
		Type:         otype,
		CustomerName: req.CustomerName,
		TableNumber:  req.TableNumber,
		GroupSession: req.GroupSession,
		Items:        items,
		TaxRefs:      req.TaxRefs,
		Tip:          pricing.Round2(req.Tip),
		DeliveryCharge: pricing.Round2(req.Delivery),
		Status:       domain.StatusPending,
	}
	for _, d := range req.Discounts {
		o.Discounts = append(o.Discounts, domain.DiscountLine{Ref: d.Ref, Label: d.Label, Amount: d.Amount})
	}
	if req.ScheduledAt != nil {
		t := req.ScheduledAt.UTC()
		o.Scheduled = true
		o.ScheduledTime = &t
		o.ScheduledStatus = domain.ScheduledPending
	}

	// 4. Attach the up-front payment before pricing so a non-positive
	// final charge is rejected rather than clamped.
	if req.Payment != nil {
		o.Payments = append(o.Payments, domain.Payment{
			Method: req.Payment.Method,
			Amount: req.Payment.Amount,
			Status: "completed",
			At:     now,
			Actor:  req.Payment.Actor,
		})
		o.TotalPaid = pricing.Round2(req.Payment.Amount)
	}

	// 5. Price, derive payment status, seed the kitchen projection.
	if err := s.recalculate(ctx, st, set, o, req.Payment != nil); err != nil {
		return nil, err
	}
	o.PaymentStatus = statemachine.DerivePaymentStatus(o.FinalCharge, o.TotalPaid)
	o.KDSStatus, err = kds.Aggregate(set.Workflow, o.Items)
	if err != nil {
		return nil, err
	}
	o.AppendHistory(domain.StatusPending, req.Actor, now)

	// 6. Persist; the repository emits the change-feed event in the same
	// transaction.
	if err := st.Orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}
	s.lg.Info("order_created", map[string]any{
		"tenant": tenant, "order_number": o.Number, "total": o.FinalCharge, "scheduled": o.Scheduled,
	})
	return o, nil
}

func (s *OrderService) GetOrder(ctx context.Context, tenant string, id uuid.UUID) (*domain.Order, error) {
	st, err := s.stores.For(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return st.Orders.Get(ctx, id)
}

func (s *OrderService) DeleteOrder(ctx context.Context, tenant string, id uuid.UUID) error {
	st, err := s.stores.For(ctx, tenant)
	if err != nil {
		return err
	}
	return st.Orders.Delete(ctx, id)
}

func (s *OrderService) AddItems(ctx context.Context, tenant string, id uuid.UUID, inputs []ItemInput, actor string) (*domain.Order, error) {
	if len(inputs) == 0 {
		return nil, &domain.PricingInputError{Reason: "at least one item is required"}
	}
	return s.mutate(ctx, tenant, id, func(ctx context.Context, st repository.Stores, set config.TenantSettings, o *domain.Order) (postFn, error) {
		if o.Status.Terminal() {
			return nil, &domain.InvalidTransitionError{From: o.Status, To: o.Status, Reason: "order is terminal"}
		}
		items, err := s.buildLines(ctx, st, inputs)
		if err != nil {
			return nil, err
		}
		o.Items = append(o.Items, items...)
		if err := s.recalculate(ctx, st, set, o, false); err != nil {
			return nil, err
		}
		o.PaymentStatus = statemachine.DerivePaymentStatus(o.FinalCharge, o.TotalPaid)
		if o.KDSStatus, err = kds.Aggregate(set.Workflow, o.Items); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func (s *OrderService) RecordPayment(ctx context.Context, tenant string, id uuid.UUID, p PaymentInput) (*domain.Order, error) {
	if p.Amount == 0 {
		return nil, &domain.PricingInputError{Reason: "payment amount must be non-zero"}
	}
	return s.mutate(ctx, tenant, id, func(ctx context.Context, st repository.Stores, set config.TenantSettings, o *domain.Order) (postFn, error) {
		refund := p.Amount < 0
		// Terminal orders accept refund bookkeeping only.
		if o.Status.Terminal() && !refund {
			return nil, &domain.InvalidTransitionError{From: o.Status, To: o.Status, Reason: "terminal order accepts refunds only"}
		}
		status := "completed"
		if refund {
			status = "refunded"
		}
		o.Payments = append(o.Payments, domain.Payment{
			Method: p.Method,
			Amount: p.Amount,
			Status: status,
			At:     s.now(),
			Actor:  p.Actor,
		})
		o.TotalPaid = pricing.Round2(o.TotalPaid + p.Amount)
		if err := s.recalculate(ctx, st, set, o, false); err != nil {
			return nil, err
		}
		o.PaymentStatus = statemachine.DerivePaymentStatus(o.FinalCharge, o.TotalPaid)
		return nil, nil
	})
}

func (s *OrderService) ApplyDiscount(ctx context.Context, tenant string, id uuid.UUID, d DiscountInput) (*domain.Order, error) {
	if d.Ref == "" && d.Amount <= 0 {
		return nil, &domain.PricingInputError{Reason: "manual discount requires a positive amount"}
	}
	return s.mutate(ctx, tenant, id, func(ctx context.Context, st repository.Stores, set config.TenantSettings, o *domain.Order) (postFn, error) {
		if o.Status.Terminal() {
			return nil, &domain.InvalidTransitionError{From: o.Status, To: o.Status, Reason: "order is terminal"}
		}
		o.Discounts = append(o.Discounts, domain.DiscountLine{Ref: d.Ref, Label: d.Label, Amount: d.Amount})
		if err := s.recalculate(ctx, st, set, o, false); err != nil {
			return nil, err
		}
		o.PaymentStatus = statemachine.DerivePaymentStatus(o.FinalCharge, o.TotalPaid)
		return nil, nil
	})
}

// SetItemStatus writes one line's kitchen status and synchronously
// recomputes the order-level KDS projection. Unknown statuses are rejected
// here, at assignment.
func (s *OrderService) SetItemStatus(ctx context.Context, tenant string, id uuid.UUID, lineID, status, actor string) (*domain.Order, error) {
	return s.mutate(ctx, tenant, id, func(ctx context.Context, st repository.Stores, set config.TenantSettings, o *domain.Order) (postFn, error) {
		if _, ok := set.Workflow.Index(status); !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownItemStatus, status)
		}
		line, ok := o.Line(lineID)
		if !ok {
			return nil, domain.ErrLineNotFound
		}
		line.KitchenStatus = status
		var err error
		if o.KDSStatus, err = kds.Aggregate(set.Workflow, o.Items); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func (s *OrderService) TransitionStatus(ctx context.Context, tenant string, id uuid.UUID, target domain.OrderStatus, actor string) (*domain.Order, error) {
	return s.mutate(ctx, tenant, id, func(ctx context.Context, st repository.Stores, set config.TenantSettings, o *domain.Order) (postFn, error) {
		eff, err := statemachine.Transition(o, target, actor, s.now())
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, saved *domain.Order) {
			// Post-commit side effects: intents are applied by
			// collaborators, never written by the state machine itself.
			if eff.ReleaseTable != nil {
				if err := st.Tables.Release(ctx, *eff.ReleaseTable); err != nil {
					s.lg.Error("table_release_failed", err, map[string]any{"tenant": tenant, "table": *eff.ReleaseTable})
				}
			}
			if target == domain.StatusPreparing {
				if err := s.kitchen.DispatchKitchen(ctx, domain.NewKitchenDispatch(saved)); err != nil {
					s.lg.Error("kitchen_dispatch_failed", err, map[string]any{"tenant": tenant, "order_number": saved.Number})
				}
			}
		}, nil
	})
}

// postFn runs after a successful commit with the saved order.
type postFn func(ctx context.Context, saved *domain.Order)

type mutation func(ctx context.Context, st repository.Stores, set config.TenantSettings, o *domain.Order) (postFn, error)

// mutate serializes concurrent writers per order id: read, apply, save
// with a version compare-and-swap, and retry from a fresh read when the
// swap is lost. Pricing depends on the full current item list, so the
// refetch is mandatory, not an optimization.
func (s *OrderService) mutate(ctx context.Context, tenant string, id uuid.UUID, fn mutation) (*domain.Order, error) {
	tenant = domain.NormalizeTenant(tenant)
	set, err := s.tenantSettings(tenant)
	if err != nil {
		return nil, err
	}
	st, err := s.stores.For(ctx, tenant)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		o, err := st.Orders.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		post, err := fn(ctx, st, set, o)
		if err != nil {
			return nil, err
		}
		if err := st.Orders.Save(ctx, o); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				s.lg.Debug("save_conflict_retry", map[string]any{"tenant": tenant, "order_id": id.String(), "attempt": attempt})
				continue
			}
			return nil, err
		}
		if post != nil {
			post(ctx, o)
		}
		return o, nil
	}
	return nil, fmt.Errorf("order %s: %w after %d attempts", id, domain.ErrVersionConflict, maxSaveAttempts)
}

// buildLines captures catalog prices at add time. An explicit unit price
// wins; otherwise an unknown item reference cannot be priced and fails.
func (s *OrderService) buildLines(ctx context.Context, st repository.Stores, inputs []ItemInput) ([]domain.LineItem, error) {
	refs := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if in.ItemRef != "" {
			refs = append(refs, in.ItemRef)
		}
	}
	catalog, err := st.Catalog.FindByIDs(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}

	out := make([]domain.LineItem, 0, len(inputs))
	for _, in := range inputs {
		if in.Quantity < 1 {
			return nil, &domain.PricingInputError{Reason: fmt.Sprintf("item %q has quantity %d", in.Name, in.Quantity)}
		}
		li := domain.LineItem{
			ItemRef:  in.ItemRef,
			Name:     in.Name,
			Quantity: in.Quantity,
			TaxRef:   in.TaxRef,
		}
		if cat, ok := catalog[in.ItemRef]; ok {
			li.Name = cat.Name
			li.UnitPrice = cat.Price
			if li.TaxRef == "" {
				li.TaxRef = cat.TaxRef
			}
		}
		if in.UnitPrice != nil {
			li.UnitPrice = *in.UnitPrice
		} else if _, ok := catalog[in.ItemRef]; !ok {
			return nil, &domain.PricingInputError{Reason: fmt.Sprintf("item reference %q not found and no price given", in.ItemRef)}
		}
		for _, m := range in.Modifiers {
			li.Modifiers = append(li.Modifiers, domain.Modifier{Name: m.Name, Price: m.Price})
		}
		lineID, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		li.LineID = lineID.String()
		out = append(out, li)
	}
	return out, nil
}

// recalculate resolves the referenced definitions and runs the pure
// pricing engine over the order.
func (s *OrderService) recalculate(ctx context.Context, st repository.Stores, set config.TenantSettings, o *domain.Order, paymentAttached bool) error {
	taxRefs := make([]string, 0, len(o.TaxRefs))
	if set.TaxMode == pricing.TaxModeItem {
		for _, li := range o.Items {
			if li.TaxRef != "" {
				taxRefs = append(taxRefs, li.TaxRef)
			}
		}
	} else {
		taxRefs = append(taxRefs, o.TaxRefs...)
	}
	discountRefs := make([]string, 0, len(o.Discounts))
	for _, d := range o.Discounts {
		if d.Ref != "" {
			discountRefs = append(discountRefs, d.Ref)
		}
	}

	taxes, err := st.Taxes.FindByIDs(ctx, taxRefs)
	if err != nil {
		return fmt.Errorf("tax lookup: %w", err)
	}
	discounts, err := st.Discounts.FindByIDs(ctx, discountRefs)
	if err != nil {
		return fmt.Errorf("discount lookup: %w", err)
	}

	return pricing.Recalculate(o, pricing.Inputs{
		Mode:            set.TaxMode,
		StrictRefs:      set.StrictRefs,
		Taxes:           taxes,
		Discounts:       discounts,
		PaymentAttached: paymentAttached,
	})
}
