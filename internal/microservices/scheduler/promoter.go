// Package scheduler promotes due scheduled orders into the active kitchen
// pipeline on a fixed per-tenant interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"restohub/internal/common/config"
	"restohub/internal/common/logger"
	"restohub/internal/domain"
	"restohub/internal/kds"
	"restohub/internal/microservices/order/repository"
	"restohub/internal/microservices/order/service"
	"restohub/internal/statemachine"
)

// PromoterActor attributes scheduler-made status changes in the audit log.
const PromoterActor = "schedule-promoter"

type PromoterInterface interface {
	PromoteDue(ctx context.Context, tenant string) (Result, error)
	Run(ctx context.Context) error
}

// Result reports one promotion batch. Failures are isolated per order.
type Result struct {
	Promoted []string `json:"promoted"`
	Failed   []string `json:"failed"`
	Skipped  bool     `json:"skipped,omitempty"` // a run was already in flight
}

type Promoter struct {
	stores   repository.StoreProviderInterface
	settings service.SettingsProviderInterface
	kitchen  service.KitchenDispatcherInterface
	tenants  []string
	interval time.Duration
	lg       *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	running map[string]*sync.Mutex
}

func NewPromoter(stores repository.StoreProviderInterface, settings service.SettingsProviderInterface, kitchen service.KitchenDispatcherInterface, tenants []string, interval time.Duration, lg *logger.Logger) *Promoter {
	return &Promoter{
		stores:   stores,
		settings: settings,
		kitchen:  kitchen,
		tenants:  tenants,
		interval: interval,
		lg:       lg,
		now:      func() time.Time { return time.Now().UTC() },
		running:  make(map[string]*sync.Mutex),
	}
}

func (p *Promoter) tenantLock(tenant string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.running[tenant]
	if !ok {
		l = &sync.Mutex{}
		p.running[tenant] = l
	}
	return l
}

// Run drives one periodic loop per tenant until ctx is canceled.
// Overlapping runs for the same tenant are skipped, not queued.
func (p *Promoter) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, tenant := range p.tenants {
		wg.Add(1)
		go func(tenant string) {
			defer wg.Done()
			t := time.NewTicker(p.interval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if _, err := p.PromoteDue(ctx, tenant); err != nil {
						p.lg.Error("promotion_run_failed", err, map[string]any{"tenant": tenant})
					}
				}
			}
		}(tenant)
	}
	wg.Wait()
	return nil
}

// PromoteDue finds due scheduled orders and sends them to the kitchen.
// Callable on demand, not only from the timer. The pending predicate in
// the query makes reprocessing an already-promoted order impossible even
// if two runs race before the first persist lands.
func (p *Promoter) PromoteDue(ctx context.Context, tenant string) (Result, error) {
	tenant = domain.NormalizeTenant(tenant)
	lock := p.tenantLock(tenant)
	if !lock.TryLock() {
		p.lg.Debug("promotion_skip_running", map[string]any{"tenant": tenant})
		return Result{Skipped: true}, nil
	}
	defer lock.Unlock()

	set, ok := p.settings.Settings(tenant)
	if !ok {
		return Result{}, fmt.Errorf("tenant %s is not configured", tenant)
	}
	st, err := p.stores.For(ctx, tenant)
	if err != nil {
		return Result{}, err
	}

	now := p.now()
	due, err := st.Orders.DueScheduled(ctx, now)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, o := range due {
		if err := p.promoteOne(ctx, st, set, o, now); err != nil {
			// One order's failure must not abort the batch.
			res.Failed = append(res.Failed, o.Number)
			p.lg.Error("promotion_failed", &domain.PromotionFailure{OrderID: o.Number, Err: err},
				map[string]any{"tenant": tenant, "order_number": o.Number})
			if merr := st.Orders.MarkPromotionFailed(ctx, o.ID); merr != nil {
				p.lg.Error("promotion_mark_failed", merr, map[string]any{"tenant": tenant, "order_number": o.Number})
			}
			continue
		}
		res.Promoted = append(res.Promoted, o.Number)
	}
	if len(res.Promoted) > 0 || len(res.Failed) > 0 {
		p.lg.Info("promotion_batch_done", map[string]any{
			"tenant": tenant, "promoted": len(res.Promoted), "failed": len(res.Failed),
		})
	}
	return res, nil
}

func (p *Promoter) promoteOne(ctx context.Context, st repository.Stores, set config.TenantSettings, o *domain.Order, now time.Time) error {
	if err := statemachine.PromoteScheduled(o, PromoterActor, now); err != nil {
		return err
	}
	// Items that never got a status start at the workflow's first step.
	for i := range o.Items {
		if o.Items[i].KitchenStatus == "" {
			o.Items[i].KitchenStatus = set.Workflow.Initial()
		}
	}
	var err error
	if o.KDSStatus, err = kds.Aggregate(set.Workflow, o.Items); err != nil {
		return err
	}
	if err := st.Orders.Save(ctx, o); err != nil {
		return err
	}
	// Dispatch after the persist so a crash in between is recoverable:
	// the pending predicate already excludes this order from reruns.
	if err := p.kitchen.DispatchKitchen(ctx, domain.NewKitchenDispatch(o)); err != nil {
		p.lg.Error("kitchen_dispatch_failed", err, map[string]any{"tenant": o.Tenant, "order_number": o.Number})
	}
	return nil
}
