package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Gateway      GatewayConfig
	Pricing      PricingConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Pricing.TaxRateDecimal(); err != nil {
		return err
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"TRADEHUB_APP_ENV" required:"true" validate:"required"`
	Port         string `envconfig:"TRADEHUB_APP_PORT" required:"true" validate:"required"`
	LogLevel     string `envconfig:"TRADEHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TRADEHUB_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"TRADEHUB_LOG_FORMAT" default:"json" validate:"oneof=json console"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TRADEHUB_SERVICE_KIND" default:"api" validate:"oneof=api cron-worker outbox-publisher migrate"`
}

type DBConfig struct {
	DSN    string `envconfig:"TRADEHUB_DB_DSN"`
	Driver string `envconfig:"TRADEHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TRADEHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"TRADEHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TRADEHUB_DB_USER"`
	LegacyPassword string `envconfig:"TRADEHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"TRADEHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"TRADEHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TRADEHUB_DB_MAX_OPEN_CONNS" default:"20" validate:"gte=1"`
	MaxIdleConns    int           `envconfig:"TRADEHUB_DB_MAX_IDLE_CONNS" default:"10" validate:"gte=0"`
	ConnMaxLifetime time.Duration `envconfig:"TRADEHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TRADEHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TRADEHUB_REDIS_URL" required:"true" validate:"required"`
	Address      string        `envconfig:"TRADEHUB_REDIS_ADDR"`
	Password     string        `envconfig:"TRADEHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"TRADEHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TRADEHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TRADEHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TRADEHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TRADEHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TRADEHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// GatewayConfig holds the billing provider credentials. SharedKey signs both
// outbound bills and inbound callbacks.
type GatewayConfig struct {
	BaseURL        string        `envconfig:"TRADEHUB_GATEWAY_BASE_URL" required:"true" validate:"required,url"`
	Username       string        `envconfig:"TRADEHUB_GATEWAY_USERNAME" required:"true" validate:"required"`
	SharedKey      string        `envconfig:"TRADEHUB_GATEWAY_SHARED_KEY" required:"true" validate:"required"`
	CallbackURL    string        `envconfig:"TRADEHUB_GATEWAY_CALLBACK_URL" validate:"omitempty,url"`
	Provider       string        `envconfig:"TRADEHUB_GATEWAY_PROVIDER" default:"billpay"`
	RequestTimeout time.Duration `envconfig:"TRADEHUB_GATEWAY_REQUEST_TIMEOUT" default:"10s"`
	MaxAttempts    int           `envconfig:"TRADEHUB_GATEWAY_MAX_ATTEMPTS" default:"3" validate:"gte=1,lte=10"`
	RetryBackoff   time.Duration `envconfig:"TRADEHUB_GATEWAY_RETRY_BACKOFF" default:"500ms"`
}

type PricingConfig struct {
	Currency              string `envconfig:"TRADEHUB_CURRENCY" default:"TZS" validate:"len=3"`
	TaxRate               string `envconfig:"TRADEHUB_TAX_RATE" default:"0.18"`
	FlatShippingCents     int64  `envconfig:"TRADEHUB_SHIPPING_FLAT_CENTS" default:"5000" validate:"gte=0"`
	FreeShippingThreshold int64  `envconfig:"TRADEHUB_SHIPPING_FREE_THRESHOLD_CENTS" default:"100000" validate:"gte=0"`
	HeavyWeightGrams      int    `envconfig:"TRADEHUB_SHIPPING_HEAVY_WEIGHT_GRAMS" default:"5000" validate:"gte=0"`
	HeavySurchargeCents   int64  `envconfig:"TRADEHUB_SHIPPING_HEAVY_SURCHARGE_CENTS" default:"3000" validate:"gte=0"`
}

// TaxRateDecimal parses TaxRate as an exact decimal fraction.
func (p PricingConfig) TaxRateDecimal() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(p.TaxRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", EnvTaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("invalid %s: must be between 0 and 1", EnvTaxRate)
	}
	return rate, nil
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"TRADEHUB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"TRADEHUB_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"TRADEHUB_GCP_PROJECT_ID"`
}

// PubSubConfig names the outbox topics. Per-aggregate topics are optional and
// fall back to NotificationTopic.
type PubSubConfig struct {
	NotificationTopic string `envconfig:"TRADEHUB_PUBSUB_NOTIFICATION_TOPIC" default:"tradehub-notification-events"`
	OrderTopic        string `envconfig:"TRADEHUB_PUBSUB_ORDER_TOPIC"`
	PaymentTopic      string `envconfig:"TRADEHUB_PUBSUB_PAYMENT_TOPIC"`
	SubscriptionTopic string `envconfig:"TRADEHUB_PUBSUB_SUBSCRIPTION_TOPIC"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"TRADEHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50" validate:"gte=1"`
	PollIntervalMS int `envconfig:"TRADEHUB_OUTBOX_PUBLISH_POLL_MS" default:"500" validate:"gte=1"`
	MaxAttempts    int `envconfig:"TRADEHUB_OUTBOX_MAX_ATTEMPTS" default:"10" validate:"gte=1"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"TRADEHUB_CRON_INTERVAL" default:"5m"`
	PendingPaymentAge time.Duration `envconfig:"TRADEHUB_CRON_PENDING_PAYMENT_AGE" default:"10m"`
	PaymentPollBatch  int           `envconfig:"TRADEHUB_CRON_PAYMENT_POLL_BATCH" default:"100" validate:"gte=1"`
	PollConcurrency   int           `envconfig:"TRADEHUB_CRON_PAYMENT_POLL_CONCURRENCY" default:"4" validate:"gte=1,lte=32"`
	LockTTL           time.Duration `envconfig:"TRADEHUB_CRON_LOCK_TTL" default:"4m"`
	UnpaidOrderTTL    time.Duration `envconfig:"TRADEHUB_CRON_UNPAID_ORDER_TTL" default:"48h"`
	ExpiryBatch       int           `envconfig:"TRADEHUB_CRON_EXPIRY_BATCH" default:"200" validate:"gte=1"`
	OutboxRetention   time.Duration `envconfig:"TRADEHUB_CRON_OUTBOX_RETENTION" default:"720h"`
	RetentionBatch    int           `envconfig:"TRADEHUB_CRON_OUTBOX_RETENTION_BATCH" default:"1000" validate:"gte=1"`
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
