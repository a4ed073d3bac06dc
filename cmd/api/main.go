package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safmarket/saf-backend/api/routes"
	"github.com/safmarket/saf-backend/internal/bootstrap"
	stripewebhook "github.com/safmarket/saf-backend/internal/webhooks/stripe"
	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
	"github.com/safmarket/saf-backend/pkg/redis"
)

const (
	webhookDedupeTTL   = 72 * time.Hour
	webhookDedupeScope = "stripe-webhook"
	shutdownTimeout    = 20 * time.Second
)

func main() {
	cfg, logg, err := bootstrap.Load("api")
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down")
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

	stripeClient, gateway, err := bootstrap.NewStripe(ctx, cfg, logg)
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

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Payments: services.Payments,
		Logger:   logg,
	})
	if err != nil {
		return err
	}
	webhookLedger, err := stripewebhook.NewEventLedger(redisClient, webhookDedupeTTL, webhookDedupeScope)
	if err != nil {
		return err
	}

	handler := routes.NewRouter(routes.Deps{
		Config:         cfg,
		Logger:         logg,
		DB:             dbClient,
		Cache:          redisClient,
		HTTPMetrics:    metrics.NewHTTPMetrics(reg),
		MetricsHandler: bootstrap.MetricsHandler(reg),
		Quotes:         services.Quotes,
		Orders:         services.Orders,
		Payments:       services.Payments,
		Certificates:   services.Certificates,
		StripeClient:   stripeClient,
		StripeWebhooks: webhookService,
		WebhookLedger:  webhookLedger,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	logg.Info(logg.WithField(ctx, "addr", server.Addr), "api server listening")

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
