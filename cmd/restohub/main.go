package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"restohub/internal/app/fanout"
	"restohub/internal/app/orderapi"
	"restohub/internal/app/promoter"
	"restohub/internal/common/config"
	"restohub/internal/common/logger"
)

func main() {
	mode := flag.String("mode", "", "order-service | schedule-promoter | change-broadcaster")
	cfgPath := flag.String("config", "config.yaml", "path to the YAML configuration")
	port := flag.Int("port", 0, "http port for the order service")
	flag.Parse()

	lg := logger.New("bootstrap")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		lg.Error("config_load_failed", err, map[string]any{"path": *cfgPath})
		os.Exit(1)
	}

	switch *mode {
	case "order-service":
		if *port == 0 {
			*port = cfg.HTTP.Port
		}
		lg.Info("service_starting", map[string]any{"service": "order-service", "port": *port})
		if err := orderapi.Run(ctx, cfg, *port); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "schedule-promoter":
		lg.Info("service_starting", map[string]any{"service": "schedule-promoter"})
		if err := promoter.Run(ctx, cfg); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	case "change-broadcaster":
		lg.Info("service_starting", map[string]any{"service": "change-broadcaster"})
		if err := fanout.Run(ctx, cfg); err != nil {
			lg.Error("fatal", err, nil)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "--mode is required: order-service | schedule-promoter | change-broadcaster")
		os.Exit(2)
	}
}
