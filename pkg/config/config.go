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
	DB           DBConfig
	Redis        RedisConfig
	Webhook      WebhookConfig
	Sink         SinkConfig
	Delivery     DeliveryConfig
	Catalog      CatalogConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Retention    RetentionConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := c.DB.ensureDSN(); err != nil {
		return err
	}
	switch c.Webhook.IdempotencyBackend {
	case IdempotencyBackendDB:
	case IdempotencyBackendRedis:
		if !c.Redis.Configured() {
			return fmt.Errorf("%s=redis requires %s or %s", EnvIdempotencyBackend, EnvRedisURL, EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unsupported idempotency backend %q", c.Webhook.IdempotencyBackend)
	}
	switch c.Delivery.RateLimitBackend {
	case RateLimitBackendLocal:
	case RateLimitBackendRedis:
		if !c.Redis.Configured() {
			return fmt.Errorf("%s=redis requires %s or %s", EnvRateLimitBackend, EnvRedisURL, EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unsupported rate limit backend %q", c.Delivery.RateLimitBackend)
	}
	if c.Delivery.BackoffMultiplier < 1 {
		return fmt.Errorf("%s must be >= 1", EnvBackoffMultiplier)
	}
	if c.Delivery.QueueCapacity <= 0 {
		return fmt.Errorf("%s must be positive", EnvQueueCapacity)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"RELAY_APP_ENV" required:"true"`
	Port         string `envconfig:"RELAY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"RELAY_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"RELAY_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"RELAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"RELAY_DB_DSN"`
	Driver string `envconfig:"RELAY_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"RELAY_DB_HOST"`
	Port     int    `envconfig:"RELAY_DB_PORT" default:"5432"`
	User     string `envconfig:"RELAY_DB_USER"`
	Password string `envconfig:"RELAY_DB_PASSWORD"`
	Name     string `envconfig:"RELAY_DB_NAME"`
	SSLMode  string `envconfig:"RELAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RELAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RELAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RELAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RELAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RELAY_REDIS_URL"`
	Address      string        `envconfig:"RELAY_REDIS_ADDR"`
	Password     string        `envconfig:"RELAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"RELAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RELAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RELAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RELAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RELAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RELAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Configured reports whether any Redis endpoint was supplied.
func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type WebhookConfig struct {
	SharedSecret              string        `envconfig:"RELAY_WEBHOOK_SHARED_SECRET" required:"true"`
	SignatureToleranceSeconds int           `envconfig:"RELAY_WEBHOOK_SIGNATURE_TOLERANCE_SECONDS" default:"300"`
	IdempotencyBackend        string        `envconfig:"RELAY_WEBHOOK_IDEMPOTENCY_BACKEND" default:"db"`
	IdempotencyTTL            time.Duration `envconfig:"RELAY_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	ClaimLease                time.Duration `envconfig:"RELAY_WEBHOOK_CLAIM_LEASE" default:"5m"`
	MaxBodyBytes              int64         `envconfig:"RELAY_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

// SignatureTolerance returns the accepted clock skew for signed notifications.
func (w WebhookConfig) SignatureTolerance() time.Duration {
	if w.SignatureToleranceSeconds <= 0 {
		return 0
	}
	return time.Duration(w.SignatureToleranceSeconds) * time.Second
}

type SinkConfig struct {
	Endpoint      string `envconfig:"RELAY_SINK_ENDPOINT" default:"https://www.google-analytics.com/mp/collect"`
	DebugEndpoint string `envconfig:"RELAY_SINK_DEBUG_ENDPOINT" default:"https://www.google-analytics.com/debug/mp/collect"`
	MeasurementID string `envconfig:"RELAY_SINK_MEASUREMENT_ID"`
	APISecret     string `envconfig:"RELAY_SINK_API_SECRET"`
	Debug         bool   `envconfig:"RELAY_SINK_DEBUG" default:"false"`
	TimeoutMS     int    `envconfig:"RELAY_SINK_TIMEOUT_MS" default:"5000"`
}

// Timeout returns the per-call delivery timeout.
func (s SinkConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// Enabled reports whether the sink credentials are present.
func (s SinkConfig) Enabled() bool {
	return strings.TrimSpace(s.MeasurementID) != "" && strings.TrimSpace(s.APISecret) != ""
}

type DeliveryConfig struct {
	BaseDelayMS        int     `envconfig:"RELAY_DELIVERY_BASE_DELAY_MS" default:"1000"`
	BackoffMultiplier  float64 `envconfig:"RELAY_DELIVERY_BACKOFF_MULTIPLIER" default:"2"`
	MaxAttempts        int     `envconfig:"RELAY_DELIVERY_MAX_ATTEMPTS" default:"3"`
	QueueCapacity      int     `envconfig:"RELAY_DELIVERY_QUEUE_CAPACITY" default:"100"`
	MaxEventsPerSecond int     `envconfig:"RELAY_DELIVERY_MAX_EVENTS_PER_SECOND" default:"0"`
	MaxEventsPerMinute int     `envconfig:"RELAY_DELIVERY_MAX_EVENTS_PER_MINUTE" default:"0"`
	ScanIntervalMS     int     `envconfig:"RELAY_DELIVERY_SCAN_INTERVAL_MS" default:"250"`
	RateLimitBackend   string  `envconfig:"RELAY_DELIVERY_RATE_LIMIT_BACKEND" default:"local"`
	Durable            bool    `envconfig:"RELAY_DELIVERY_DURABLE" default:"true"`
}

func (d DeliveryConfig) BaseDelay() time.Duration {
	return time.Duration(d.BaseDelayMS) * time.Millisecond
}

func (d DeliveryConfig) ScanInterval() time.Duration {
	return time.Duration(d.ScanIntervalMS) * time.Millisecond
}

type CatalogConfig struct {
	BaseURL   string `envconfig:"RELAY_CATALOG_BASE_URL"`
	APIKey    string `envconfig:"RELAY_CATALOG_API_KEY"`
	TimeoutMS int    `envconfig:"RELAY_CATALOG_TIMEOUT_MS" default:"3000"`
}

func (c CatalogConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RELAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"RELAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RELAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DeadLetterTopic string `envconfig:"RELAY_PUBSUB_DEAD_LETTER_TOPIC"`
}

// Enabled reports whether dead letters should also be published to Pub/Sub.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.DeadLetterTopic) != ""
}

// RetentionConfig drives the cron worker that trims processed events and dead letters.
type RetentionConfig struct {
	Interval       time.Duration `envconfig:"RELAY_RETENTION_INTERVAL" default:"1h"`
	LockTTL        time.Duration `envconfig:"RELAY_RETENTION_LOCK_TTL" default:"55m"`
	DeadLetterDays int           `envconfig:"RELAY_RETENTION_DEAD_LETTER_DAYS" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"RELAY_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range splitDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
