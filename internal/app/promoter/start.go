// Package promoter boots the scheduled-order promotion loop.
package promoter

import (
	"context"

	"restohub/internal/common/config"
	"restohub/internal/common/logger"
	"restohub/internal/connections/database"
	"restohub/internal/connections/rabbitmq"
	"restohub/internal/microservices/order/repository"
	"restohub/internal/microservices/scheduler"
)

func Run(ctx context.Context, cfg *config.App) error {
	lg := logger.New("schedule-promoter")

	registry := database.NewRegistry(cfg.Database, tenantDSN(cfg), lg)
	defer registry.CloseAll(context.Background())

	rabbit, err := rabbitmq.Dial(rabbitmq.Config{
		Host:     cfg.Rabbit.Host,
		Port:     cfg.Rabbit.Port,
		User:     cfg.Rabbit.User,
		Password: cfg.Rabbit.Pass,
		VHost:    cfg.Rabbit.VHost,
	})
	if err != nil {
		return err
	}
	defer rabbit.Close()
	if err := rabbit.DeclareTopology(); err != nil {
		return err
	}

	stores := repository.NewProvider(registry)
	p := scheduler.NewPromoter(stores, cfg, rabbit, cfg.TenantIDs(), cfg.Scheduler.Interval(), lg)
	lg.Info("service_started", map[string]any{"interval": cfg.Scheduler.Interval().String(), "tenants": len(cfg.TenantIDs())})
	return p.Run(ctx)
}

func tenantDSN(cfg *config.App) func(string) string {
	return func(tenant string) string {
		if s, ok := cfg.Settings(tenant); ok {
			return s.DSN
		}
		return ""
	}
}
