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
	LocalStore   LocalStoreConfig
	Identity     IdentityConfig
	PayU         PayUConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Tracking     TrackingConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.PayU.validate(); err != nil {
		return nil, err
	}
	if err := cfg.LocalStore.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PICKUP_APP_ENV" required:"true"`
	Port         string `envconfig:"PICKUP_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"PICKUP_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PICKUP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PICKUP_DB_DSN"`
	Driver string `envconfig:"PICKUP_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"PICKUP_DB_HOST"`
	Port     int    `envconfig:"PICKUP_DB_PORT" default:"5432"`
	User     string `envconfig:"PICKUP_DB_USER"`
	Password string `envconfig:"PICKUP_DB_PASSWORD"`
	Name     string `envconfig:"PICKUP_DB_NAME"`
	SSLMode  string `envconfig:"PICKUP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PICKUP_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"PICKUP_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"PICKUP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PICKUP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the document store runs on the embedded sqlite driver.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"PICKUP_REDIS_URL"`
	Address      string        `envconfig:"PICKUP_REDIS_ADDR"`
	Password     string        `envconfig:"PICKUP_REDIS_PASSWORD"`
	DB           int           `envconfig:"PICKUP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PICKUP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PICKUP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PICKUP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PICKUP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PICKUP_REDIS_WRITE_TIMEOUT" default:"5s"`
	CallbackTTL  time.Duration `envconfig:"PICKUP_REDIS_CALLBACK_TTL" default:"72h"`
}

// Enabled reports whether any redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

const (
	LocalStoreSQLite = "sqlite"
	LocalStoreRedis  = "redis"
)

type LocalStoreConfig struct {
	Driver     string `envconfig:"PICKUP_LOCAL_STORE_DRIVER" default:"sqlite"`
	Path       string `envconfig:"PICKUP_LOCAL_STORE_PATH" default:"pickup-local.db"`
	Namespace  string `envconfig:"PICKUP_LOCAL_STORE_NAMESPACE" default:"device"`
	CartKey    string `envconfig:"PICKUP_LOCAL_STORE_CART_KEY" default:"cart"`
	JournalKey string `envconfig:"PICKUP_LOCAL_STORE_JOURNAL_KEY" default:"pending_checkouts"`
}

func (l LocalStoreConfig) validate() error {
	switch strings.ToLower(l.Driver) {
	case LocalStoreSQLite, LocalStoreRedis:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvLocalStoreDriver, LocalStoreSQLite, LocalStoreRedis)
	}
	if strings.TrimSpace(l.CartKey) == "" || strings.TrimSpace(l.JournalKey) == "" {
		return fmt.Errorf("local store slot keys are required")
	}
	if l.CartKey == l.JournalKey {
		return fmt.Errorf("cart and journal slots must use different keys")
	}
	return nil
}

type IdentityConfig struct {
	Secret string `envconfig:"PICKUP_IDENTITY_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"PICKUP_IDENTITY_JWT_ISSUER" required:"true"`
}

type PayUConfig struct {
	MerchantKey  string `envconfig:"PICKUP_PAYU_MERCHANT_KEY" required:"true"`
	MerchantSalt string `envconfig:"PICKUP_PAYU_MERCHANT_SALT" required:"true"`
	Endpoint     string `envconfig:"PICKUP_PAYU_ENDPOINT" default:"https://secure.payu.in/_payment"`
	SuccessURL   string `envconfig:"PICKUP_PAYU_SUCCESS_URL" required:"true"`
	FailureURL   string `envconfig:"PICKUP_PAYU_FAILURE_URL" required:"true"`
	ProductInfo  string `envconfig:"PICKUP_PAYU_PRODUCT_INFO" default:"Food Order"`
	// GatewayTimeout bounds how long a checkout waits on the payment surface.
	// Zero waits until the caller's context ends.
	GatewayTimeout time.Duration `envconfig:"PICKUP_PAYU_GATEWAY_TIMEOUT" default:"15m"`
}

func (p PayUConfig) validate() error {
	for env, raw := range map[string]string{
		EnvPayUEndpoint:   p.Endpoint,
		EnvPayUSuccessURL: p.SuccessURL,
		EnvPayUFailureURL: p.FailureURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("%s must be an absolute url", env)
		}
	}
	if strings.EqualFold(strings.TrimRight(p.SuccessURL, "/"), strings.TrimRight(p.FailureURL, "/")) {
		return fmt.Errorf("%s and %s must differ", EnvPayUSuccessURL, EnvPayUFailureURL)
	}
	return nil
}

type GCPConfig struct {
	ProjectID string `envconfig:"PICKUP_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrderEventsTopic   string `envconfig:"PICKUP_PUBSUB_ORDER_EVENTS_TOPIC" default:"pickup-order-events"`
	PaymentEventsTopic string `envconfig:"PICKUP_PUBSUB_PAYMENT_EVENTS_TOPIC" default:"pickup-payment-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PICKUP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PICKUP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PICKUP_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type TrackingConfig struct {
	Channel string `envconfig:"PICKUP_TRACKING_CHANNEL" default:"order_changes"`
	// MinReconnect and MaxReconnect bound the LISTEN connection's retry backoff.
	MinReconnect time.Duration `envconfig:"PICKUP_TRACKING_MIN_RECONNECT" default:"1s"`
	MaxReconnect time.Duration `envconfig:"PICKUP_TRACKING_MAX_RECONNECT" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PICKUP_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}
	if db.Host == "" || db.User == "" || db.Name == "" {
		return fmt.Errorf("either %s or PICKUP_DB_HOST, PICKUP_DB_USER and PICKUP_DB_NAME are required", EnvDBDSN)
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
