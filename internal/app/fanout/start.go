// Package fanout boots the change broadcaster: it watches every
// configured tenant's change feed and republishes to Redis topics.
package fanout

import (
	"context"

	"restohub/internal/common/config"
	"restohub/internal/common/logger"
	"restohub/internal/connections/database"
	"restohub/internal/connections/redisbus"
	"restohub/internal/microservices/broadcaster"
	"restohub/internal/microservices/order/repository"
)

func Run(ctx context.Context, cfg *config.App) error {
	lg := logger.New("change-broadcaster")

	registry := database.NewRegistry(cfg.Database, tenantDSN(cfg), lg)
	defer registry.CloseAll(context.Background())

	rdb, err := redisbus.New(ctx, redisbus.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Pass,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	b := broadcaster.New(
		broadcaster.NewPgFeed(registry, lg),
		redisbus.NewPublisher(rdb),
		broadcaster.NewPgLoader(repository.NewProvider(registry)),
		broadcaster.NewRegistryRefs(registry),
		lg,
	)

	// This process watches every configured tenant. A tenant whose store
	// is unreachable is skipped; the next restart retries it.
	for _, tenant := range cfg.TenantIDs() {
		if err := b.Join(ctx, tenant); err != nil {
			lg.Error("tenant_watch_failed", err, map[string]any{"tenant": tenant})
		}
	}

	lg.Info("service_started", map[string]any{"tenants": len(cfg.TenantIDs())})
	<-ctx.Done()
	for _, tenant := range cfg.TenantIDs() {
		b.Leave(tenant)
	}
	return nil
}

func tenantDSN(cfg *config.App) func(string) string {
	return func(tenant string) string {
		if s, ok := cfg.Settings(tenant); ok {
			return s.DSN
		}
		return ""
	}
}
