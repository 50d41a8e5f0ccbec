// Package orderapi boots the HTTP order service: tenant store registry,
// kitchen dispatch connection and the order handlers.
package orderapi

import (
	"context"
	"strconv"

	"restohub/internal/common/config"
	"restohub/internal/common/httpx"
	"restohub/internal/common/logger"
	"restohub/internal/connections/database"
	"restohub/internal/connections/rabbitmq"
	"restohub/internal/microservices/order/handlers"
	"restohub/internal/microservices/order/repository"
	"restohub/internal/microservices/order/service"
	"restohub/internal/microservices/scheduler"
)

func Run(ctx context.Context, cfg *config.App, port int) error {
	lg := logger.New("order-service")

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
	orders := service.NewOrderService(stores, cfg, rabbit, lg)
	// The API exposes on-demand promotion; the periodic loop runs in the
	// schedule-promoter process.
	promoter := scheduler.NewPromoter(stores, cfg, rabbit, cfg.TenantIDs(), cfg.Scheduler.Interval(), lg)

	h := handlers.NewOrderHandler(orders, promoter)
	srv := httpx.New(":"+strconv.Itoa(port), h.Router())
	lg.Info("service_started", map[string]any{"port": port, "tenants": len(cfg.TenantIDs())})
	return srv.Run(ctx)
}

// tenantDSN prefers an explicit per-tenant DSN override from config.
func tenantDSN(cfg *config.App) func(string) string {
	return func(tenant string) string {
		if s, ok := cfg.Settings(tenant); ok {
			return s.DSN
		}
		return ""
	}
}
