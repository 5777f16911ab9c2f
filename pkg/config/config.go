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
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Stripe       StripeConfig
	Checkout     CheckoutConfig
	Sweeper      SweeperConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Metrics      MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"COURSEMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"COURSEMARKET_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"COURSEMARKET_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"COURSEMARKET_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"COURSEMARKET_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"COURSEMARKET_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"COURSEMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"COURSEMARKET_DB_DSN"`
	Driver string `envconfig:"COURSEMARKET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"COURSEMARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"COURSEMARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"COURSEMARKET_DB_USER"`
	LegacyPassword string `envconfig:"COURSEMARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"COURSEMARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"COURSEMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COURSEMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COURSEMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COURSEMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COURSEMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"COURSEMARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"COURSEMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"COURSEMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"COURSEMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COURSEMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COURSEMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COURSEMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COURSEMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COURSEMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"COURSEMARKET_REDIS_KEY_PREFIX" default:"cm"`
}

type JWTConfig struct {
	Secret            string `envconfig:"COURSEMARKET_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"COURSEMARKET_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"COURSEMARKET_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"COURSEMARKET_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"COURSEMARKET_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL  time.Duration `envconfig:"COURSEMARKET_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	// Replay windows for Idempotency-Key on purchase mutations. Checkout
	// creation keeps keys longer since a replayed initiate would open a second session.
	RequestIdempotencyTTL  time.Duration `envconfig:"COURSEMARKET_EVENTING_REQUEST_IDEMPOTENCY_TTL" default:"24h"`
	CheckoutIdempotencyTTL time.Duration `envconfig:"COURSEMARKET_EVENTING_CHECKOUT_IDEMPOTENCY_TTL" default:"168h"`
}

type StripeConfig struct {
	APIKey      string        `envconfig:"COURSEMARKET_STRIPE_API_KEY"`
	Secret      string        `envconfig:"COURSEMARKET_STRIPE_SECRET"`
	Env         string        `envconfig:"COURSEMARKET_STRIPE_ENV" default:"test"`
	Currency    string        `envconfig:"COURSEMARKET_STRIPE_CURRENCY" default:"usd"`
	CallTimeout time.Duration `envconfig:"COURSEMARKET_STRIPE_CALL_TIMEOUT" default:"10s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type CheckoutConfig struct {
	SuccessURL     string        `envconfig:"COURSEMARKET_CHECKOUT_SUCCESS_URL" required:"true"`
	CancelURL      string        `envconfig:"COURSEMARKET_CHECKOUT_CANCEL_URL" required:"true"`
	SessionTimeout time.Duration `envconfig:"COURSEMARKET_CHECKOUT_SESSION_TIMEOUT" default:"30m"`
}

// Stripe rejects checkout sessions that expire in less than 30 minutes or more than 24 hours.
func (c CheckoutConfig) validate() error {
	if c.SessionTimeout < 30*time.Minute || c.SessionTimeout > 24*time.Hour {
		return fmt.Errorf("%s must be between 30m and 24h", EnvCheckoutSessionTimeout)
	}
	return nil
}

type SweeperConfig struct {
	ExpiryWindow time.Duration `envconfig:"COURSEMARKET_SWEEPER_EXPIRY_WINDOW" default:"24h"`
	PurgeWindow  time.Duration `envconfig:"COURSEMARKET_SWEEPER_PURGE_WINDOW" default:"168h"`
	Concurrency  int           `envconfig:"COURSEMARKET_SWEEPER_CONCURRENCY" default:"4"`

	CronTick      time.Duration `envconfig:"COURSEMARKET_SWEEPER_CRON_TICK" default:"1m"`
	CronInterval  time.Duration `envconfig:"COURSEMARKET_SWEEPER_CRON_INTERVAL" default:"1h"`
	// PurgeInterval paces the purge and outbox retention jobs.
	PurgeInterval time.Duration `envconfig:"COURSEMARKET_SWEEPER_PURGE_INTERVAL" default:"24h"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"COURSEMARKET_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PurchasesTopic string `envconfig:"COURSEMARKET_PUBSUB_PURCHASES_TOPIC" default:"purchase-events"`
	// RefundsTopic splits refund events off the purchases topic when set.
	RefundsTopic   string `envconfig:"COURSEMARKET_PUBSUB_REFUNDS_TOPIC"`
}

// MetricsConfig is the Prometheus listener used by the background workers.
// The API serves /metrics on its own port.
type MetricsConfig struct {
	Addr string `envconfig:"COURSEMARKET_METRICS_ADDR" default:":9090"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"COURSEMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"COURSEMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"COURSEMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"COURSEMARKET_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = defaultSQLiteDSN
		}
		return nil
	}
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
