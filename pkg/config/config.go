package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Pricing      PricingConfig
	Payments     PaymentsConfig
	Stripe       StripeConfig
	Emissions    EmissionsConfig
	Registry     RegistryConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	Cron         CronConfig

	Notifications NotificationsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Eventing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SAFMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"SAFMARKET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SAFMARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SAFMARKET_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"SAFMARKET_LOG_FORMAT" default:"json"`
	FrontendURL  string `envconfig:"SAFMARKET_FRONTEND_URL" default:"http://localhost:4200"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SAFMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SAFMARKET_DB_DSN"`
	Driver string `envconfig:"SAFMARKET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SAFMARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"SAFMARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SAFMARKET_DB_USER"`
	LegacyPassword string `envconfig:"SAFMARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"SAFMARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"SAFMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SAFMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SAFMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SAFMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SAFMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SAFMARKET_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SAFMARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SAFMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"SAFMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"SAFMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SAFMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SAFMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SAFMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SAFMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SAFMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the shared secret for bearer tokens minted by the identity
// provider and the key used to sign quote tokens.
type JWTConfig struct {
	Secret      string        `envconfig:"SAFMARKET_JWT_SECRET" required:"true"`
	Issuer      string        `envconfig:"SAFMARKET_JWT_ISSUER" required:"true"`
	QuoteSecret string        `envconfig:"SAFMARKET_QUOTE_SIGNING_SECRET"`
	AccessTTL   time.Duration `envconfig:"SAFMARKET_JWT_ACCESS_TTL" default:"1h"`
}

// QuoteSigningSecret falls back to the bearer secret when no dedicated key is set.
func (j JWTConfig) QuoteSigningSecret() string {
	if strings.TrimSpace(j.QuoteSecret) != "" {
		return j.QuoteSecret
	}
	return j.Secret
}

// RateLimitConfig throttles the unauthenticated quote endpoint per IP and
// order creation per user. A zero limit disables that counter.
type RateLimitConfig struct {
	QuoteWindow    time.Duration `envconfig:"SAFMARKET_RATE_LIMIT_QUOTE_WINDOW" default:"1m"`
	QuoteIPLimit   int           `envconfig:"SAFMARKET_RATE_LIMIT_QUOTE_IP_LIMIT" default:"60"`
	OrderWindow    time.Duration `envconfig:"SAFMARKET_RATE_LIMIT_ORDER_WINDOW" default:"1m"`
	OrderUserLimit int           `envconfig:"SAFMARKET_RATE_LIMIT_ORDER_USER_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	AutoMigrate   bool `envconfig:"SAFMARKET_AUTO_MIGRATE" default:"false"`
	LocalRegistry bool `envconfig:"SAFMARKET_LOCAL_REGISTRY" default:"false"`
}

// PricingConfig carries the quote rates. Money values are decimal strings.
type PricingConfig struct {
	PricePerLiter     string        `envconfig:"SAFMARKET_PRICING_PRICE_PER_LITER" default:"3.20"`
	CarbonCreditPerKg string        `envconfig:"SAFMARKET_PRICING_CARBON_CREDIT_PER_KG" default:"0.045"`
	ProcessingFee     string        `envconfig:"SAFMARKET_PRICING_PROCESSING_FEE" default:"25.00"`
	RegulatoryFee     string        `envconfig:"SAFMARKET_PRICING_REGULATORY_FEE" default:"12.50"`
	DefaultFuelPerCO2 string        `envconfig:"SAFMARKET_PRICING_DEFAULT_FUEL_PER_CO2" default:"3.3"`
	BlendRatio        string        `envconfig:"SAFMARKET_PRICING_BLEND_RATIO" default:"0.25"`
	ReductionRatio    string        `envconfig:"SAFMARKET_PRICING_REDUCTION_RATIO" default:"0.80"`
	QuoteValidity     time.Duration `envconfig:"SAFMARKET_PRICING_QUOTE_VALIDITY" default:"1h"`
}

type PaymentsConfig struct {
	Currency       string        `envconfig:"SAFMARKET_PAYMENTS_CURRENCY" default:"usd"`
	FeePercent     string        `envconfig:"SAFMARKET_PAYMENTS_FEE_PERCENT" default:"0.029"`
	FeeFixed       string        `envconfig:"SAFMARKET_PAYMENTS_FEE_FIXED" default:"0.30"`
	GatewayTimeout time.Duration `envconfig:"SAFMARKET_PAYMENTS_GATEWAY_TIMEOUT" default:"10s"`
	CheckoutTTL    time.Duration `envconfig:"SAFMARKET_PAYMENTS_CHECKOUT_TTL" default:"1h"`
}

type StripeConfig struct {
	APIKey     string `envconfig:"SAFMARKET_STRIPE_API_KEY"`
	Secret     string `envconfig:"SAFMARKET_STRIPE_SECRET"`
	Env        string `envconfig:"SAFMARKET_STRIPE_ENV" default:"test"`
	SuccessURL string `envconfig:"SAFMARKET_STRIPE_SUCCESS_URL"`
	CancelURL  string `envconfig:"SAFMARKET_STRIPE_CANCEL_URL"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type EmissionsConfig struct {
	BaseURL  string        `envconfig:"SAFMARKET_EMISSIONS_BASE_URL"`
	APIKey   string        `envconfig:"SAFMARKET_EMISSIONS_API_KEY"`
	Timeout  time.Duration `envconfig:"SAFMARKET_EMISSIONS_TIMEOUT" default:"5s"`
	CacheTTL time.Duration `envconfig:"SAFMARKET_EMISSIONS_CACHE_TTL" default:"1h"`
}

type RegistryConfig struct {
	BaseURL         string        `envconfig:"SAFMARKET_REGISTRY_BASE_URL"`
	APIKey          string        `envconfig:"SAFMARKET_REGISTRY_API_KEY"`
	Timeout         time.Duration `envconfig:"SAFMARKET_REGISTRY_TIMEOUT" default:"10s"`
	ArtifactBaseURL string        `envconfig:"SAFMARKET_REGISTRY_ARTIFACT_BASE_URL" default:"/api/v1/orders"`
}

type EventingConfig struct {
	Backend string `envconfig:"SAFMARKET_EVENTING_BACKEND" default:"pubsub"`
}

func (e EventingConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(e.Backend)) {
	case EventingBackendPubSub, EventingBackendKafka, EventingBackendNone:
		return nil
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvEventingBackend, EventingBackendPubSub, EventingBackendKafka, EventingBackendNone)
	}
}

// Normalized returns the lower-cased backend name.
func (e EventingConfig) Normalized() string {
	return strings.ToLower(strings.TrimSpace(e.Backend))
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SAFMARKET_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SAFMARKET_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SAFMARKET_GOOGLE_APPLICATION_CREDENTIALS"`
}

// GCSConfig locates the bucket certificates are archived in. An empty
// bucket disables archiving.
type GCSConfig struct {
	BucketName        string        `envconfig:"SAFMARKET_GCS_BUCKET_NAME"`
	CertificatePrefix string        `envconfig:"SAFMARKET_GCS_CERTIFICATE_PREFIX" default:"certificates"`
	UploadTimeout     time.Duration `envconfig:"SAFMARKET_GCS_UPLOAD_TIMEOUT" default:"15s"`
}

type PubSubConfig struct {
	OrdersTopic               string `envconfig:"SAFMARKET_PUBSUB_ORDERS_TOPIC" default:"saf-order-events"`
	NotificationsSubscription string `envconfig:"SAFMARKET_PUBSUB_NOTIFICATIONS_SUBSCRIPTION" default:"saf-order-notifications"`
}

// NotificationsConfig tunes the worker that turns order events into customer notices.
type NotificationsConfig struct {
	IdempotencyTTL time.Duration `envconfig:"SAFMARKET_NOTIFICATIONS_IDEMPOTENCY_TTL" default:"168h"`
	MaxOutstanding int           `envconfig:"SAFMARKET_NOTIFICATIONS_MAX_OUTSTANDING" default:"10"`
	MetricsAddr    string        `envconfig:"SAFMARKET_NOTIFICATIONS_METRICS_ADDR"`
}

type KafkaConfig struct {
	Brokers      []string      `envconfig:"SAFMARKET_KAFKA_BROKERS"`
	OrdersTopic  string        `envconfig:"SAFMARKET_KAFKA_ORDERS_TOPIC" default:"saf.order.events"`
	WriteTimeout time.Duration `envconfig:"SAFMARKET_KAFKA_WRITE_TIMEOUT" default:"10s"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"SAFMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"SAFMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"SAFMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
	PublishTimeout time.Duration `envconfig:"SAFMARKET_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	MetricsAddr    string        `envconfig:"SAFMARKET_OUTBOX_METRICS_ADDR"`
}

type CronConfig struct {
	Interval             time.Duration `envconfig:"SAFMARKET_CRON_INTERVAL" default:"1m"`
	LockTTL              time.Duration `envconfig:"SAFMARKET_CRON_LOCK_TTL" default:"5m"`
	CertificateRetryAge  time.Duration `envconfig:"SAFMARKET_CRON_CERTIFICATE_RETRY_AGE" default:"2m"`
	CertificateBatchSize int           `envconfig:"SAFMARKET_CRON_CERTIFICATE_BATCH_SIZE" default:"50"`
	StaleCheckoutGrace   time.Duration `envconfig:"SAFMARKET_CRON_STALE_CHECKOUT_GRACE" default:"15m"`
	OutboxRetention      time.Duration `envconfig:"SAFMARKET_CRON_OUTBOX_RETENTION" default:"720h"`
	OutboxRetentionChunk int           `envconfig:"SAFMARKET_CRON_OUTBOX_RETENTION_CHUNK" default:"500"`
	MetricsAddr          string        `envconfig:"SAFMARKET_CRON_METRICS_ADDR"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
