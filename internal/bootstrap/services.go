// Package bootstrap assembles the lifecycle services shared by the api and
// cron-worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/safmarket/saf-backend/internal/certificates"
	"github.com/safmarket/saf-backend/internal/emissions"
	"github.com/safmarket/saf-backend/internal/orders"
	"github.com/safmarket/saf-backend/internal/payments"
	"github.com/safmarket/saf-backend/internal/quotes"
	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
	"github.com/safmarket/saf-backend/pkg/outbox"
	pkgredis "github.com/safmarket/saf-backend/pkg/redis"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Params carries the infrastructure the services are built on. Cache may
// be nil, in which case emissions lookups are not memoized. Artifacts may
// be nil, in which case certificates are not archived.
type Params struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *gorm.DB
	Tx        txRunner
	Cache     *pkgredis.Client
	Gateway   payments.Gateway
	Artifacts certificates.ArtifactStore
	Metrics   *Metrics
	Clock     func() time.Time
}

// Metrics groups the collectors services report to.
type Metrics struct {
	Lifecycle    *metrics.LifecycleMetrics
	Dependencies *metrics.DependencyMetrics
}

type Services struct {
	Quotes       *quotes.Service
	Orders       orders.Service
	Payments     payments.Service
	Certificates certificates.Service
	Outbox       *outbox.Service
}

func Build(params Params) (*Services, error) {
	cfg := params.Config
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if params.DB == nil || params.Tx == nil {
		return nil, fmt.Errorf("database required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	m := params.Metrics
	if m == nil {
		m = &Metrics{}
	}

	events := outbox.NewService(outbox.NewRepository(params.DB), logg)

	orderSvc, err := orders.NewService(orders.NewRepository(params.DB), params.Tx, events, m.Lifecycle, params.Clock, logg)
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	registry, err := NewCertificateRegistry(cfg)
	if err != nil {
		return nil, err
	}
	certSvc, err := certificates.NewService(certificates.ServiceParams{
		Repo:            certificates.NewRepository(params.DB),
		Orders:          orderSvc,
		Registry:        registry,
		Tx:              params.Tx,
		Outbox:          events,
		ArtifactBaseURL: cfg.Registry.ArtifactBaseURL,
		Artifacts:       params.Artifacts,
		ArtifactPrefix:  cfg.GCS.CertificatePrefix,
		Metrics:         m.Dependencies,
		Clock:           params.Clock,
		Logger:          logg,
	})
	if err != nil {
		return nil, fmt.Errorf("certificates service: %w", err)
	}

	fees, err := payments.FeeModelFromConfig(cfg.Payments)
	if err != nil {
		return nil, fmt.Errorf("payment fees: %w", err)
	}
	paySvc, err := payments.NewService(payments.ServiceParams{
		Repo:           payments.NewRepository(params.DB),
		Orders:         orderSvc,
		Gateway:        params.Gateway,
		Issuer:         certSvc,
		Tx:             params.Tx,
		Outbox:         events,
		Fees:           fees,
		Currency:       cfg.Payments.Currency,
		GatewayTimeout: cfg.Payments.GatewayTimeout,
		CheckoutTTL:    cfg.Payments.CheckoutTTL,
		Metrics:        m.Dependencies,
		Clock:          params.Clock,
		Logger:         logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	quoteSvc, err := NewQuoteService(cfg, params.Cache, m.Dependencies, params.Clock, logg)
	if err != nil {
		return nil, err
	}

	return &Services{
		Quotes:       quoteSvc,
		Orders:       orderSvc,
		Payments:     paySvc,
		Certificates: certSvc,
		Outbox:       events,
	}, nil
}

// NewCertificateRegistry picks the external registry when one is
// configured, otherwise the in-process registry.
func NewCertificateRegistry(cfg *config.Config) (certificates.Registry, error) {
	if cfg.FeatureFlags.LocalRegistry || strings.TrimSpace(cfg.Registry.BaseURL) == "" {
		local, err := certificates.NewLocalRegistry()
		if err != nil {
			return nil, fmt.Errorf("local registry: %w", err)
		}
		return local, nil
	}
	remote, err := certificates.NewHTTPRegistry(cfg.Registry.BaseURL, cfg.Registry.APIKey, cfg.Registry.Timeout)
	if err != nil {
		return nil, fmt.Errorf("registry client: %w", err)
	}
	return remote, nil
}

// NewQuoteService wires pricing rates, the quote signer and, when an
// emissions API is configured, the oracle behind a redis cache.
func NewQuoteService(cfg *config.Config, cache *pkgredis.Client, deps *metrics.DependencyMetrics, clock func() time.Time, logg *logger.Logger) (*quotes.Service, error) {
	rates, err := quotes.RatesFromConfig(cfg.Pricing, cfg.Payments.Currency)
	if err != nil {
		return nil, fmt.Errorf("pricing rates: %w", err)
	}
	engine, err := quotes.NewEngine(rates, clock)
	if err != nil {
		return nil, fmt.Errorf("quote engine: %w", err)
	}
	signer, err := quotes.NewSigner(cfg.JWT.QuoteSigningSecret(), cfg.JWT.Issuer)
	if err != nil {
		return nil, fmt.Errorf("quote signer: %w", err)
	}

	var oracle emissions.Oracle
	if strings.TrimSpace(cfg.Emissions.BaseURL) != "" {
		client, err := emissions.NewClient(cfg.Emissions.BaseURL, cfg.Emissions.APIKey, emissions.WithTimeout(cfg.Emissions.Timeout))
		if err != nil {
			return nil, fmt.Errorf("emissions client: %w", err)
		}
		oracle = client
		if cache != nil {
			oracle = emissions.NewCachedOracle(client, cache, cfg.Emissions.CacheTTL, logg, deps)
		}
	}

	return quotes.NewService(engine, signer, oracle, clock, logg)
}
