package config

// EnvPrefix namespaces every variable read by envconfig.
const EnvPrefix = "RELAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	IdempotencyBackendDB    = "db"
	IdempotencyBackendRedis = "redis"

	RateLimitBackendLocal = "local"
	RateLimitBackendRedis = "redis"
)

const (
	EnvAppEnv             = "RELAY_APP_ENV"
	EnvDBDSN              = "RELAY_DB_DSN"
	EnvDBHost             = "RELAY_DB_HOST"
	EnvDBUser             = "RELAY_DB_USER"
	EnvDBName             = "RELAY_DB_NAME"
	EnvRedisURL           = "RELAY_REDIS_URL"
	EnvRedisAddr          = "RELAY_REDIS_ADDR"
	EnvSharedSecret       = "RELAY_WEBHOOK_SHARED_SECRET"
	EnvIdempotencyBackend = "RELAY_WEBHOOK_IDEMPOTENCY_BACKEND"
	EnvRateLimitBackend   = "RELAY_DELIVERY_RATE_LIMIT_BACKEND"
	EnvBackoffMultiplier  = "RELAY_DELIVERY_BACKOFF_MULTIPLIER"
	EnvQueueCapacity      = "RELAY_DELIVERY_QUEUE_CAPACITY"
	EnvMaxPerSecond       = "RELAY_DELIVERY_MAX_EVENTS_PER_SECOND"
	EnvMaxPerMinute       = "RELAY_DELIVERY_MAX_EVENTS_PER_MINUTE"
)

var splitDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
