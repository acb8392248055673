package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Escrow        EscrowConfig
	Payout        PayoutConfig
	Webhook       WebhookConfig
	Gateway       GatewayConfig
	Notifications NotificationsConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	FeatureFlags  FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Escrow.CommissionRate.IsNegative() || c.Escrow.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be between 0 and 1, got %s", EnvCommissionRate, c.Escrow.CommissionRate)
	}
	if c.Escrow.EscrowPeriodMS < 0 {
		return fmt.Errorf("%s must not be negative", EnvEscrowPeriodMS)
	}
	if c.Escrow.MinimumPayout < 0 {
		return fmt.Errorf("%s must not be negative", EnvMinimumPayout)
	}
	if c.Payout.BatchSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvPayoutBatchSize)
	}
	if c.Payout.RetryAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvPayoutRetryAttempts)
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvOutboxBatchSize)
	}
	if c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvOutboxMaxAttempts)
	}
	if c.Payout.OpsAccountID != "" {
		if _, err := uuid.Parse(c.Payout.OpsAccountID); err != nil {
			return fmt.Errorf("%s must be a uuid: %w", EnvPayoutOpsAccountID, err)
		}
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"COMMISSION_APP_ENV" required:"true"`
	Port         string `envconfig:"COMMISSION_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"COMMISSION_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"COMMISSION_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"COMMISSION_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"COMMISSION_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"COMMISSION_DB_DSN"`
	Driver string `envconfig:"COMMISSION_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"COMMISSION_DB_HOST"`
	LegacyPort     int    `envconfig:"COMMISSION_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"COMMISSION_DB_USER"`
	LegacyPassword string `envconfig:"COMMISSION_DB_PASSWORD"`
	LegacyName     string `envconfig:"COMMISSION_DB_NAME"`
	LegacySSLMode  string `envconfig:"COMMISSION_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COMMISSION_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COMMISSION_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COMMISSION_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COMMISSION_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"COMMISSION_REDIS_URL" required:"true"`
	Address      string        `envconfig:"COMMISSION_REDIS_ADDR"`
	Password     string        `envconfig:"COMMISSION_REDIS_PASSWORD"`
	DB           int           `envconfig:"COMMISSION_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COMMISSION_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COMMISSION_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COMMISSION_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COMMISSION_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COMMISSION_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the platform's auth service.
type JWTConfig struct {
	Secret string `envconfig:"COMMISSION_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"COMMISSION_JWT_ISSUER" required:"true"`
}

type EscrowConfig struct {
	CommissionRate  decimal.Decimal `envconfig:"COMMISSION_RATE" default:"0.10"`
	EscrowPeriodMS  int64           `envconfig:"COMMISSION_ESCROW_PERIOD_MS" default:"604800000"`
	MinimumPayout   int64           `envconfig:"COMMISSION_MINIMUM_PAYOUT" default:"1000"`
	SweepIntervalMS int64           `envconfig:"COMMISSION_SWEEP_INTERVAL_MS" default:"900000"`
	SweepLockTTL    time.Duration   `envconfig:"COMMISSION_SWEEP_LOCK_TTL" default:"10m"`
	StaleClaimAfter time.Duration   `envconfig:"COMMISSION_STALE_CLAIM_AFTER" default:"30m"`
}

// EscrowPeriod returns the hold window applied to new ledger entries.
func (e EscrowConfig) EscrowPeriod() time.Duration {
	return time.Duration(e.EscrowPeriodMS) * time.Millisecond
}

// SweepInterval returns the cadence of the escrow sweep.
func (e EscrowConfig) SweepInterval() time.Duration {
	if e.SweepIntervalMS <= 0 {
		return 0
	}
	return time.Duration(e.SweepIntervalMS) * time.Millisecond
}

type PayoutConfig struct {
	BatchSize         int           `envconfig:"COMMISSION_PAYOUT_BATCH_SIZE" default:"50"`
	RetryAttempts     int           `envconfig:"COMMISSION_PAYOUT_RETRY_ATTEMPTS" default:"3"`
	Workers           int           `envconfig:"COMMISSION_PAYOUT_WORKERS" default:"4"`
	QueueSize         int           `envconfig:"COMMISSION_PAYOUT_QUEUE_SIZE" default:"256"`
	RequestsPerSecond float64       `envconfig:"COMMISSION_PAYOUT_RPS" default:"5"`
	Burst             int           `envconfig:"COMMISSION_PAYOUT_BURST" default:"1"`
	BackoffBase       time.Duration `envconfig:"COMMISSION_PAYOUT_BACKOFF_BASE" default:"30s"`
	BackoffMax        time.Duration `envconfig:"COMMISSION_PAYOUT_BACKOFF_MAX" default:"10m"`
	OpsAccountID      string        `envconfig:"COMMISSION_PAYOUT_OPS_ACCOUNT_ID"`
}

// OpsAccount returns the notification recipient for operator alerts.
func (p PayoutConfig) OpsAccount() uuid.UUID {
	id, err := uuid.Parse(p.OpsAccountID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

type WebhookConfig struct {
	Secret          string        `envconfig:"COMMISSION_WEBHOOK_SECRET" required:"true"`
	SignatureHeader string        `envconfig:"COMMISSION_WEBHOOK_SIGNATURE_HEADER" default:"X-Gateway-Signature"`
	MaxBodyBytes    int64         `envconfig:"COMMISSION_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
	SeenTTL         time.Duration `envconfig:"COMMISSION_WEBHOOK_SEEN_TTL" default:"72h"`
}

type GatewayConfig struct {
	BaseURL   string        `envconfig:"COMMISSION_GATEWAY_BASE_URL" required:"true"`
	SecretKey string        `envconfig:"COMMISSION_GATEWAY_SECRET_KEY"`
	Timeout   time.Duration `envconfig:"COMMISSION_GATEWAY_TIMEOUT" default:"10s"`
}

type NotificationsConfig struct {
	RetentionDays  int           `envconfig:"COMMISSION_NOTIFICATIONS_RETENTION_DAYS" default:"90"`
	ReaperInterval time.Duration `envconfig:"COMMISSION_NOTIFICATIONS_REAPER_INTERVAL" default:"1h"`
	QueueSize      int           `envconfig:"COMMISSION_NOTIFICATIONS_QUEUE_SIZE" default:"1024"`
	Workers        int           `envconfig:"COMMISSION_NOTIFICATIONS_WORKERS" default:"2"`
	RetryAttempts  int           `envconfig:"COMMISSION_NOTIFICATIONS_RETRY_ATTEMPTS" default:"3"`
	RetryBackoff   time.Duration `envconfig:"COMMISSION_NOTIFICATIONS_RETRY_BACKOFF" default:"200ms"`
}

// Retention returns how long a notification stays visible.
func (n NotificationsConfig) Retention() time.Duration {
	return time.Duration(n.RetentionDays) * 24 * time.Hour
}

type GCPConfig struct {
	ProjectID              string `envconfig:"COMMISSION_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"COMMISSION_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"COMMISSION_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SubscriptionEventsTopic string        `envconfig:"COMMISSION_PUBSUB_SUBSCRIPTION_EVENTS_TOPIC"`
	PublishTimeout          time.Duration `envconfig:"COMMISSION_PUBSUB_PUBLISH_TIMEOUT" default:"5s"`
}

// Enabled reports whether subscription events should be published to Pub/Sub.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.SubscriptionEventsTopic) != ""
}

// OutboxConfig tunes the relay that publishes queued subscription events.
type OutboxConfig struct {
	BatchSize    int           `envconfig:"COMMISSION_OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval time.Duration `envconfig:"COMMISSION_OUTBOX_POLL_INTERVAL" default:"500ms"`
	MaxAttempts  int           `envconfig:"COMMISSION_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"COMMISSION_AUTO_MIGRATE" default:"false"`
	SeenCache   bool `envconfig:"COMMISSION_WEBHOOK_SEEN_CACHE" default:"true"`
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
