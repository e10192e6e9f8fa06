package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "shopkite"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv  = "SHOPKITE_APP_ENV"
	EnvAppPort = "SHOPKITE_APP_PORT"
	EnvDBDSN   = "SHOPKITE_DB_DSN"
	EnvDBHost  = "SHOPKITE_DB_HOST"
	EnvDBUser  = "SHOPKITE_DB_USER"
	EnvDBName  = "SHOPKITE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	PayPal    PayPalConfig
	Session   SessionConfig
	Checkout  CheckoutConfig
	Nonce     NonceConfig
	RateLimit RateLimitConfig
	Features  FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.PayPal.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SHOPKITE_APP_ENV" required:"true"`
	Port         string `envconfig:"SHOPKITE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SHOPKITE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SHOPKITE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SHOPKITE_DB_DSN"`
	Driver string `envconfig:"SHOPKITE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SHOPKITE_DB_HOST"`
	LegacyPort     int    `envconfig:"SHOPKITE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SHOPKITE_DB_USER"`
	LegacyPassword string `envconfig:"SHOPKITE_DB_PASSWORD"`
	LegacyName     string `envconfig:"SHOPKITE_DB_NAME"`
	LegacySSLMode  string `envconfig:"SHOPKITE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SHOPKITE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SHOPKITE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SHOPKITE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SHOPKITE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SHOPKITE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SHOPKITE_REDIS_ADDR"`
	Password     string        `envconfig:"SHOPKITE_REDIS_PASSWORD"`
	DB           int           `envconfig:"SHOPKITE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SHOPKITE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SHOPKITE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SHOPKITE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SHOPKITE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SHOPKITE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type PayPalConfig struct {
	Env           string        `envconfig:"SHOPKITE_PAYPAL_ENV" default:"sandbox"`
	ClientID      string        `envconfig:"SHOPKITE_PAYPAL_CLIENT_ID" required:"true"`
	ClientSecret  string        `envconfig:"SHOPKITE_PAYPAL_CLIENT_SECRET" required:"true"`
	BNCode        string        `envconfig:"SHOPKITE_PAYPAL_BN_CODE" default:"Shopkite_Cart_PPCP"`
	PayeeEmail    string        `envconfig:"SHOPKITE_PAYPAL_PAYEE_EMAIL"`
	MerchantID    string        `envconfig:"SHOPKITE_PAYPAL_MERCHANT_ID"`
	Intent        string        `envconfig:"SHOPKITE_PAYPAL_INTENT" default:"CAPTURE"`
	ReturnURL     string        `envconfig:"SHOPKITE_PAYPAL_RETURN_URL"`
	CancelURL     string        `envconfig:"SHOPKITE_PAYPAL_CANCEL_URL"`
	BearerSafety  time.Duration `envconfig:"SHOPKITE_PAYPAL_BEARER_SAFETY_MARGIN" default:"60s"`
	HTTPTimeout   time.Duration `envconfig:"SHOPKITE_PAYPAL_HTTP_TIMEOUT" default:"30s"`
	BrandName     string        `envconfig:"SHOPKITE_PAYPAL_BRAND_NAME" default:"Shopkite"`
	DefaultLocale string        `envconfig:"SHOPKITE_PAYPAL_LOCALE" default:"en-US"`
}

const (
	PayPalEnvSandbox = "sandbox"
	PayPalEnvLive    = "live"
)

// Environment returns the normalized PayPal environment (sandbox/live).
func (p PayPalConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(p.Env))
	if env == "" {
		return PayPalEnvSandbox
	}
	return env
}

func (p PayPalConfig) validate() error {
	switch p.Environment() {
	case PayPalEnvSandbox, PayPalEnvLive:
	default:
		return fmt.Errorf("paypal environment must be %q or %q", PayPalEnvSandbox, PayPalEnvLive)
	}
	switch strings.ToUpper(strings.TrimSpace(p.Intent)) {
	case "CAPTURE", "AUTHORIZE":
		return nil
	default:
		return fmt.Errorf("paypal intent must be CAPTURE or AUTHORIZE")
	}
}

type SessionConfig struct {
	TTLMinutes int    `envconfig:"SHOPKITE_SESSION_TTL_MINUTES" default:"1440"`
	CookieName string `envconfig:"SHOPKITE_SESSION_COOKIE" default:"checkout_session"`
}

// TTL returns the checkout session lifetime.
func (s SessionConfig) TTL() time.Duration {
	if s.TTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.TTLMinutes) * time.Minute
}

type CheckoutConfig struct {
	MaxFundingRetries int           `envconfig:"SHOPKITE_CHECKOUT_MAX_FUNDING_RETRIES" default:"3"`
	VaultCacheTTL     time.Duration `envconfig:"SHOPKITE_CHECKOUT_VAULT_CACHE_TTL" default:"15m"`
}

type NonceConfig struct {
	Secret string        `envconfig:"SHOPKITE_NONCE_SECRET" required:"true"`
	TTL    time.Duration `envconfig:"SHOPKITE_NONCE_TTL" default:"10m"`
}

type RateLimitConfig struct {
	Window       time.Duration `envconfig:"SHOPKITE_RATE_LIMIT_WINDOW" default:"1m"`
	SessionLimit int           `envconfig:"SHOPKITE_RATE_LIMIT_SESSION_LIMIT" default:"30"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SHOPKITE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SHOPKITE_AUTO_MIGRATE" default:"false"`
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
