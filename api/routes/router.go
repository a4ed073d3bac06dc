package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/safmarket/saf-backend/api/controllers"
	ordercontrollers "github.com/safmarket/saf-backend/api/controllers/orders"
	paymentcontrollers "github.com/safmarket/saf-backend/api/controllers/payments"
	webhookcontrollers "github.com/safmarket/saf-backend/api/controllers/webhooks"
	"github.com/safmarket/saf-backend/api/middleware"
	"github.com/safmarket/saf-backend/internal/certificates"
	"github.com/safmarket/saf-backend/internal/orders"
	"github.com/safmarket/saf-backend/internal/payments"
	"github.com/safmarket/saf-backend/internal/quotes"
	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/enums"
	"github.com/safmarket/saf-backend/pkg/logger"
	"github.com/safmarket/saf-backend/pkg/metrics"
	pkgredis "github.com/safmarket/saf-backend/pkg/redis"
)

// CacheStore is the Redis surface the HTTP layer needs.
type CacheStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

type quoteService interface {
	Quote(ctx context.Context, req quotes.Request) (quotes.Issued, error)
	Redeem(token string) (quotes.Quote, error)
	Pricing() quotes.Pricing
}

type webhookLedger interface {
	Once(ctx context.Context, eventID string, apply func(context.Context) error) (bool, error)
}

type signingClient interface {
	SigningSecret() string
}

// Deps carries everything the router wires into handlers. Cache, the
// Stripe fields and MetricsHandler are optional.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             controllers.Pinger
	Cache          CacheStore
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler

	Quotes       quoteService
	Orders       orders.Service
	Payments     payments.Service
	Certificates certificates.Service

	StripeClient   signingClient
	StripeWebhooks webhookcontrollers.EventHandler
	WebhookLedger  webhookLedger
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(deps.HTTPMetrics),
		middleware.CORS(cfg.App.FrontendURL),
	)

	var (
		idempotencyStore pkgredis.IdempotencyStore
		rateStore        middleware.RateLimitStore
		readiness        = map[string]controllers.Pinger{"db": deps.DB}
	)
	if deps.Cache != nil {
		idempotencyStore = deps.Cache
		rateStore = deps.Cache
		readiness["redis"] = deps.Cache
	}

	quotePolicy := middleware.NewRateLimitPolicy("quotes", cfg.RateLimit.QuoteWindow, cfg.RateLimit.QuoteIPLimit, 0)
	orderPolicy := middleware.NewRateLimitPolicy("orders", cfg.RateLimit.OrderWindow, 0, cfg.RateLimit.OrderUserLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(quotePolicy, rateStore, logg)).Post("/quotes", controllers.Quote(deps.Quotes, logg))
		r.Get("/pricing/config", controllers.PricingConfig(deps.Quotes, logg))
		r.Get("/certificates/{number}/verify", controllers.VerifyCertificate(deps.Certificates, logg))
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhooks, deps.StripeClient, deps.WebhookLedger, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(idempotencyStore, logg))

			r.Route("/orders", func(r chi.Router) {
				r.With(middleware.RateLimit(orderPolicy, rateStore, logg)).Post("/", ordercontrollers.Create(deps.Orders, deps.Quotes, logg))
				r.Get("/", ordercontrollers.List(deps.Orders, logg))
				r.Get("/stats", ordercontrollers.Stats(deps.Orders, logg))
				r.Route("/{orderId}", func(r chi.Router) {
					r.Get("/", ordercontrollers.Detail(deps.Orders, logg))
					r.Post("/cancel", ordercontrollers.Cancel(deps.Orders, logg))
					r.Post("/payments", paymentcontrollers.Initiate(deps.Payments, logg))
					r.Get("/payments", paymentcontrollers.List(deps.Payments, logg))
					r.Get("/certificate", ordercontrollers.Certificate(deps.Certificates, logg))
				})
			})

			r.Route("/payments/{paymentId}", func(r chi.Router) {
				r.Get("/", paymentcontrollers.Status(deps.Payments, logg))
				r.With(middleware.RequireRole(logg, enums.RoleAdmin)).
					Post("/refund", paymentcontrollers.Refund(deps.Payments, logg))
			})
		})
	})

	return r
}
