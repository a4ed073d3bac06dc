package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/safmarket/saf-backend/internal/bootstrap"
	"github.com/safmarket/saf-backend/internal/notifications"
	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/outbox/idempotency"
	"github.com/safmarket/saf-backend/pkg/pubsub"
	"github.com/safmarket/saf-backend/pkg/redis"
)

func main() {
	cfg, logg, err := bootstrap.Load("worker")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := bootstrap.OpenDatabase(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer bootstrap.Closer(ctx, logg, "database", dbClient.Close)()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer bootstrap.Closer(ctx, logg, "redis", redisClient.Close)()

	psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return err
	}
	defer bootstrap.Closer(ctx, logg, "pubsub", psClient.Close)()

	subscription, err := psClient.Subscriber(ctx, cfg.PubSub.NotificationsSubscription, cfg.Notifications.MaxOutstanding)
	if err != nil {
		return err
	}
	manager, err := idempotency.NewManager(redisClient, cfg.Notifications.IdempotencyTTL)
	if err != nil {
		return err
	}

	reg, serviceMetrics := bootstrap.NewMetricsRegistry()
	defer bootstrap.ServeMetrics(ctx, logg, cfg.Notifications.MetricsAddr, reg)()

	consumer, err := notifications.NewConsumer(notifications.ConsumerParams{
		Repository:   notifications.NewRepository(dbClient.DB()),
		Subscription: subscription,
		Idempotency:  manager,
		Sender:       notifications.NewLogSender(logg),
		Logger:       logg,
		Metrics:      serviceMetrics.Dependencies,
	})
	if err != nil {
		return err
	}

	service, err := NewService(ServiceParams{
		Logger:   logg,
		Pingers:  map[string]pinger{"database": dbClient, "redis": redisClient, "pubsub": psClient},
		Consumer: consumer,
	})
	if err != nil {
		return err
	}

	logg.Info(logg.WithField(ctx, "subscription", cfg.PubSub.NotificationsSubscription), "starting worker")
	return service.Run(ctx)
}
