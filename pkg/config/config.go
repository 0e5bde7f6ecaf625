package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "ucstore"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "UCSTORE_DB_DSN"
	EnvDBHost = "UCSTORE_DB_HOST"
	EnvDBUser = "UCSTORE_DB_USER"
	EnvDBName = "UCSTORE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	AdminJWT  AdminJWTConfig
	Providers ProvidersConfig
	Issuer    IssuerConfig
	Delivery  DeliveryConfig
	Sweep     SweepConfig
	Risk      RiskConfig
	Promo     PromoConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"UCSTORE_APP_ENV" required:"true"`
	Port         string `envconfig:"UCSTORE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"UCSTORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"UCSTORE_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"UCSTORE_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"UCSTORE_DB_DSN"`
	Driver string `envconfig:"UCSTORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"UCSTORE_DB_HOST"`
	LegacyPort     int    `envconfig:"UCSTORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"UCSTORE_DB_USER"`
	LegacyPassword string `envconfig:"UCSTORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"UCSTORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"UCSTORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"UCSTORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"UCSTORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"UCSTORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"UCSTORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"UCSTORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"UCSTORE_REDIS_ADDR"`
	Password     string        `envconfig:"UCSTORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"UCSTORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"UCSTORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"UCSTORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"UCSTORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"UCSTORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"UCSTORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type AdminJWTConfig struct {
	Secret            string `envconfig:"UCSTORE_ADMIN_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"UCSTORE_ADMIN_JWT_ISSUER" default:"ucstore"`
	ExpirationMinutes int    `envconfig:"UCSTORE_ADMIN_JWT_EXPIRATION_MINUTES" default:"60"`
}

// ProvidersConfig holds the per-provider webhook credentials. A provider with
// an empty secret is not registered at startup.
type ProvidersConfig struct {
	CardProSecret    string `envconfig:"UCSTORE_PROVIDER_CARDPRO_SECRET"`
	WalletIOSecret   string `envconfig:"UCSTORE_PROVIDER_WALLETIO_SECRET"`
	CryptoPayXSecret string `envconfig:"UCSTORE_PROVIDER_CRYPTOPAYX_SECRET"`
}

// IssuerConfig points at the upstream top-up API that credits UC to a
// player's game account.
type IssuerConfig struct {
	BaseURL string        `envconfig:"UCSTORE_ISSUER_BASE_URL"`
	APIKey  string        `envconfig:"UCSTORE_ISSUER_API_KEY"`
	Timeout time.Duration `envconfig:"UCSTORE_ISSUER_TIMEOUT" default:"15s"`
}

type DeliveryConfig struct {
	MaxAttempts    int           `envconfig:"UCSTORE_DELIVERY_MAX_ATTEMPTS" default:"5"`
	BackoffBase    time.Duration `envconfig:"UCSTORE_DELIVERY_BACKOFF_BASE" default:"2s"`
	IssueTimeout   time.Duration `envconfig:"UCSTORE_DELIVERY_ISSUE_TIMEOUT" default:"30s"`
	BackoffCeiling time.Duration `envconfig:"UCSTORE_DELIVERY_BACKOFF_CEILING" default:"2m"`
}

type SweepConfig struct {
	Interval        time.Duration `envconfig:"UCSTORE_SWEEP_INTERVAL" default:"5m"`
	StalenessWindow time.Duration `envconfig:"UCSTORE_SWEEP_STALENESS_WINDOW" default:"15m"`
	LockTTL         time.Duration `envconfig:"UCSTORE_SWEEP_LOCK_TTL" default:"10m"`
	BatchSize       int           `envconfig:"UCSTORE_SWEEP_BATCH_SIZE" default:"100"`
}

type PromoConfig struct {
	ReferralBonusPercent string `envconfig:"UCSTORE_PROMO_REFERRAL_BONUS_PERCENT" default:"10"`
}

type RiskConfig struct {
	VelocityWindow    time.Duration `envconfig:"UCSTORE_RISK_VELOCITY_WINDOW" default:"1h"`
	VelocityReviewMax int           `envconfig:"UCSTORE_RISK_VELOCITY_REVIEW_MAX" default:"5"`
	VelocityBlockMax  int           `envconfig:"UCSTORE_RISK_VELOCITY_BLOCK_MAX" default:"15"`
	AmountReviewMax   string        `envconfig:"UCSTORE_RISK_AMOUNT_REVIEW_MAX" default:"200"`
	AmountBlockMax    string        `envconfig:"UCSTORE_RISK_AMOUNT_BLOCK_MAX" default:"1000"`
	MinAccountAge     time.Duration `envconfig:"UCSTORE_RISK_MIN_ACCOUNT_AGE" default:"24h"`
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
