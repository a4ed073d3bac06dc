package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/safmarket/saf-backend/internal/bootstrap"
	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
	"github.com/safmarket/saf-backend/pkg/outbox"
	"github.com/safmarket/saf-backend/pkg/outbox/registry"
)

func main() {
	cfg, logg, err := bootstrap.Load("outbox-publisher")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "backend", cfg.Eventing.Normalized())

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := bootstrap.OpenDatabase(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer bootstrap.Closer(ctx, logg, "database", dbClient.Close)()

	publisher, topic, err := newBackend(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer bootstrap.Closer(ctx, logg, "eventing backend", publisher.Close)()

	reg, _ := bootstrap.NewMetricsRegistry()
	defer bootstrap.ServeMetrics(ctx, logg, cfg.Outbox.MetricsAddr, reg)()

	eventRegistry, err := registry.NewEventRegistry(topic)
	if err != nil {
		return err
	}
	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Publisher:  publisher,
		Repository: outbox.NewRepository(dbClient.DB()),
		Registry:   eventRegistry,
		Metrics:    metrics.NewOutboxMetrics(reg),
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting outbox publisher")
	return service.Run(ctx)
}
