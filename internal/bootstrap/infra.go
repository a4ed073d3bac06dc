package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/joho/godotenv"

	"github.com/safmarket/saf-backend/internal/certificates"
	"github.com/safmarket/saf-backend/internal/payments"
	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/db"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/migrate"
	"github.com/safmarket/saf-backend/pkg/storage/gcs"
	pkgstripe "github.com/safmarket/saf-backend/pkg/stripe"
)

// Load reads an optional .env file and the environment, then builds the
// service logger. The returned logger is usable even when err is non-nil.
func Load(service string) (*config.Config, *logger.Logger, error) {
	logg := NewLogger(service, nil)
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, logg, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = service
	return cfg, NewLogger(service, cfg), nil
}

// OpenDatabase connects to postgres and applies migrations when the dev
// auto-migrate flag is set. The caller owns Close.
func OpenDatabase(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*db.Client, error) {
	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	if err := migrate.MaybeRunDev(ctx, cfg, logg, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return client, nil
}

// NewStripe returns the configured Stripe client and the gateway built on it.
func NewStripe(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*pkgstripe.Client, payments.Gateway, error) {
	client, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap stripe: %w", err)
	}
	gateway, err := payments.NewStripeGateway(client)
	if err != nil {
		return nil, nil, fmt.Errorf("payment gateway: %w", err)
	}
	return client, gateway, nil
}

// NewArtifactStore connects to the certificate bucket. It returns a nil
// store and a no-op close when no bucket is configured.
func NewArtifactStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (certificates.ArtifactStore, func() error, error) {
	if strings.TrimSpace(cfg.GCS.BucketName) == "" {
		logg.Warn(ctx, "no certificate bucket configured, certificates are rendered on download")
		return nil, func() error { return nil }, nil
	}
	client, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap gcs: %w", err)
	}
	return client, client.Close, nil
}

// Closer logs close failures for deferred cleanup.
func Closer(ctx context.Context, logg *logger.Logger, name string, close func() error) func() {
	return func() {
		if err := close(); err != nil {
			logg.Error(ctx, "error closing "+name, err)
		}
	}
}
