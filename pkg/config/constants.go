package config

const EnvPrefix = "SAFMARKET"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EventingBackendPubSub = "pubsub"
	EventingBackendKafka  = "kafka"
	EventingBackendNone   = "none"
)

const (
	EnvAppEnv          = "SAFMARKET_APP_ENV"
	EnvPort            = "SAFMARKET_APP_PORT"
	EnvDBDSN           = "SAFMARKET_DB_DSN"
	EnvDBHost          = "SAFMARKET_DB_HOST"
	EnvDBUser          = "SAFMARKET_DB_USER"
	EnvDBName          = "SAFMARKET_DB_NAME"
	EnvDBPassword      = "SAFMARKET_DB_PASSWORD"
	EnvRedisURL        = "SAFMARKET_REDIS_URL"
	EnvJWTSecret       = "SAFMARKET_JWT_SECRET"
	EnvJWTIssuer       = "SAFMARKET_JWT_ISSUER"
	EnvEventingBackend = "SAFMARKET_EVENTING_BACKEND"
	EnvKafkaBrokers    = "SAFMARKET_KAFKA_BROKERS"
	EnvPricingPPL      = "SAFMARKET_PRICING_PRICE_PER_LITER"
	EnvQuoteValidity   = "SAFMARKET_PRICING_QUOTE_VALIDITY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
