package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/safmarket/saf-backend/internal/bootstrap"
	"github.com/safmarket/saf-backend/internal/cron"
	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/db"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
	"github.com/safmarket/saf-backend/pkg/outbox"
	"github.com/safmarket/saf-backend/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	cfg, logg, err := bootstrap.Load("cron-worker")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
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

	_, gateway, err := bootstrap.NewStripe(ctx, cfg, logg)
	if err != nil {
		return err
	}

	artifacts, closeArtifacts, err := bootstrap.NewArtifactStore(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer bootstrap.Closer(ctx, logg, "gcs", closeArtifacts)()

	reg, serviceMetrics := bootstrap.NewMetricsRegistry()
	services, err := bootstrap.Build(bootstrap.Params{
		Config:    cfg,
		Logger:    logg,
		DB:        dbClient.DB(),
		Tx:        dbClient,
		Cache:     redisClient,
		Gateway:   gateway,
		Artifacts: artifacts,
		Metrics:   serviceMetrics,
	})
	if err != nil {
		return err
	}

	cronMetrics := metrics.NewCronJobMetrics(reg)
	jobs, err := buildJobs(cfg, logg, dbClient, services, cronMetrics)
	if err != nil {
		return fmt.Errorf("cron jobs: %w", err)
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Jobs:     jobs,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	defer bootstrap.ServeMetrics(ctx, logg, cfg.Cron.MetricsAddr, reg)()

	logg.Info(logg.WithField(ctx, "jobs", len(jobs)), "starting cron worker")
	return service.Run(ctx)
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *bootstrap.Services, cronMetrics *metrics.CronJobMetrics) ([]cron.Job, error) {
	certificateRetry, err := cron.NewCertificateRetryJob(cron.CertificateRetryJobParams{
		Logger:    logg,
		Orders:    services.Orders,
		Issuer:    services.Certificates,
		Metrics:   cronMetrics,
		MinAge:    cfg.Cron.CertificateRetryAge,
		BatchSize: cfg.Cron.CertificateBatchSize,
	})
	if err != nil {
		return nil, err
	}

	staleCheckout, err := cron.NewStaleCheckoutJob(cron.StaleCheckoutJobParams{
		Logger:      logg,
		Payments:    services.Payments,
		Metrics:     cronMetrics,
		CheckoutTTL: cfg.Payments.CheckoutTTL,
		Grace:       cfg.Cron.StaleCheckoutGrace,
	})
	if err != nil {
		return nil, err
	}

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Metrics:    cronMetrics,
		Retention:  cfg.Cron.OutboxRetention,
		ChunkSize:  cfg.Cron.OutboxRetentionChunk,
	})
	if err != nil {
		return nil, err
	}

	return []cron.Job{certificateRetry, staleCheckout, outboxRetention}, nil
}
