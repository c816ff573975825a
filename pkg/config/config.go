package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"google.golang.org/api/option"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	JWT            JWTConfig
	FeatureFlags   FeatureFlagsConfig
	VisaDirect     VisaDirectConfig
	Payments       PaymentsConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	BigQuery       BigQueryConfig
	Eventing       EventingConfig
	Outbox         OutboxConfig
	Reconciliation ReconciliationConfig
	HTTP           HTTPConfig
	RateLimit      RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	if err := cfg.validateStaleWindow(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateStaleWindow keeps the reconciliation sweep from abandoning a transfer
// that is still inside its own budget.
func (c *Config) validateStaleWindow() error {
	budget := c.VisaDirect.TransferBudget()
	if c.Reconciliation.StaleAfter <= budget {
		return fmt.Errorf("%s (%s) must exceed the transfer budget (%s)",
			EnvReconcileStaleAfter, c.Reconciliation.StaleAfter, budget)
	}
	return nil
}

// ShutdownShortfall is how much shorter the HTTP drain window is than one
// transfer budget. Zero means an in-flight transfer can always finish.
func (c *Config) ShutdownShortfall() time.Duration {
	return max(c.VisaDirect.TransferBudget()-c.HTTP.ShutdownTimeout, 0)
}

type AppConfig struct {
	Env          string `envconfig:"PUSHPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"PUSHPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PUSHPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PUSHPAY_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"PUSHPAY_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"PUSHPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PUSHPAY_DB_DSN"`
	Driver string `envconfig:"PUSHPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PUSHPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"PUSHPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PUSHPAY_DB_USER"`
	LegacyPassword string `envconfig:"PUSHPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"PUSHPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"PUSHPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PUSHPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PUSHPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PUSHPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PUSHPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"PUSHPAY_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PUSHPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PUSHPAY_REDIS_ADDR"`
	Password     string        `envconfig:"PUSHPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"PUSHPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PUSHPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PUSHPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PUSHPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PUSHPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PUSHPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies merchant dashboard tokens. Tokens are minted by the dashboard auth service.
type JWTConfig struct {
	Secret            string `envconfig:"PUSHPAY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PUSHPAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PUSHPAY_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"PUSHPAY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"PUSHPAY_AUTO_MIGRATE" default:"false"`
}

// VisaDirectConfig holds the funds-transfer network credentials and polling policy.
type VisaDirectConfig struct {
	BaseURL               string        `envconfig:"PUSHPAY_VISA_API_URL" required:"true"`
	UserID                string        `envconfig:"PUSHPAY_VISA_USER_ID" required:"true"`
	Password              string        `envconfig:"PUSHPAY_VISA_PASSWORD" required:"true"`
	CertPath              string        `envconfig:"PUSHPAY_VISA_CERT" required:"true"`
	KeyPath               string        `envconfig:"PUSHPAY_VISA_PRIVATE_KEY" required:"true"`
	CAPath                string        `envconfig:"PUSHPAY_VISA_CA"`
	AcquiringBIN          string        `envconfig:"PUSHPAY_VISA_ACQUIRING_BIN" default:"408999"`
	AcquirerCountryCode   string        `envconfig:"PUSHPAY_VISA_ACQUIRER_COUNTRY_CODE" default:"840"`
	MerchantCategoryCode  string        `envconfig:"PUSHPAY_VISA_MERCHANT_CATEGORY_CODE" default:"6012"`
	BusinessApplicationID string        `envconfig:"PUSHPAY_VISA_BUSINESS_APPLICATION_ID" default:"FT"`
	CardAcceptorName      string        `envconfig:"PUSHPAY_VISA_CARD_ACCEPTOR_NAME" default:"PushPay"`
	StatusPollAttempts    int           `envconfig:"PUSHPAY_VISA_STATUS_POLL_ATTEMPTS" default:"20"`
	StatusPollInterval    time.Duration `envconfig:"PUSHPAY_VISA_STATUS_POLL_INTERVAL" default:"3s"`
	RequestTimeout        time.Duration `envconfig:"PUSHPAY_VISA_REQUEST_TIMEOUT" default:"30s"`
}

// PollBudget is the worst-case time a single transfer may spend resolving its status.
func (v VisaDirectConfig) PollBudget() time.Duration {
	if v.StatusPollAttempts <= 0 {
		return 0
	}
	return time.Duration(v.StatusPollAttempts) * (v.StatusPollInterval + v.RequestTimeout)
}

// TransferBudget adds the submit request to PollBudget.
func (v VisaDirectConfig) TransferBudget() time.Duration {
	return v.RequestTimeout + v.PollBudget()
}

type PaymentsConfig struct {
	FrontendURL         string   `envconfig:"PUSHPAY_FRONTEND_URL" required:"true"`
	SupportedCurrencies []string `envconfig:"PUSHPAY_SUPPORTED_CURRENCIES" default:"USD"`
}

// LinkBase returns the frontend URL without a trailing slash.
func (p PaymentsConfig) LinkBase() string {
	return strings.TrimRight(strings.TrimSpace(p.FrontendURL), "/")
}

func (p PaymentsConfig) validate() error {
	if _, err := url.ParseRequestURI(p.LinkBase()); err != nil {
		return fmt.Errorf("%s must be an absolute url: %w", EnvFrontendURL, err)
	}
	if len(p.SupportedCurrencies) == 0 {
		return fmt.Errorf("%s must list at least one currency", EnvSupportedCurrencies)
	}
	return nil
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PUSHPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PUSHPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

// ClientOptions picks inline JSON credentials over a credentials file. With neither
// set, the Google clients fall back to application default credentials.
func (g GCPConfig) ClientOptions() []option.ClientOption {
	switch {
	case strings.TrimSpace(g.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(g.CredentialsJSON))}
	case strings.TrimSpace(g.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(g.ApplicationCredentials)}
	}
	return nil
}

type PubSubConfig struct {
	PaymentsTopic        string `envconfig:"PUSHPAY_PUBSUB_PAYMENTS_TOPIC" default:"pushpay-payment-events"`
	PaymentsSubscription string `envconfig:"PUSHPAY_PUBSUB_PAYMENTS_SUBSCRIPTION" default:"pushpay-payment-events-sub"`

	PublishDelay           time.Duration `envconfig:"PUSHPAY_PUBSUB_PUBLISH_DELAY" default:"10ms"`
	PublishCountThreshold  int           `envconfig:"PUSHPAY_PUBSUB_PUBLISH_COUNT_THRESHOLD" default:"100"`
	MaxOutstandingMessages int           `envconfig:"PUSHPAY_PUBSUB_MAX_OUTSTANDING_MESSAGES" default:"100"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"PUSHPAY_BIGQUERY_DATASET" default:"pushpay"`
	PaymentEventsTable string `envconfig:"PUSHPAY_BIGQUERY_PAYMENT_EVENTS_TABLE" default:"payment_events"`
	// CreateMissing creates the dataset and any table with a known schema on startup.
	CreateMissing bool   `envconfig:"PUSHPAY_BIGQUERY_CREATE_MISSING" default:"false"`
	Location      string `envconfig:"PUSHPAY_BIGQUERY_LOCATION" default:"US"`
}

// EventingConfig controls consumer-side dedupe of delivered outbox events.
type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"PUSHPAY_EVENTING_OUTBOX_IDEMPOTENCY_TTL" default:"720h"`
	ClaimTTL             time.Duration `envconfig:"PUSHPAY_EVENTING_CLAIM_TTL" default:"5m"`
	MetricsPort          string        `envconfig:"PUSHPAY_EVENTS_METRICS_PORT" default:"9091"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"PUSHPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"PUSHPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"PUSHPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int           `envconfig:"PUSHPAY_OUTBOX_RETENTION_DAYS" default:"30"`
	RetentionEvery time.Duration `envconfig:"PUSHPAY_OUTBOX_RETENTION_EVERY" default:"24h"`
	RetentionBatch int           `envconfig:"PUSHPAY_OUTBOX_RETENTION_BATCH_SIZE" default:"1000"`
}

// ReconciliationConfig drives the cron job that abandons payments stuck in PROCESSING.
type ReconciliationConfig struct {
	StaleAfter time.Duration `envconfig:"PUSHPAY_RECONCILE_STALE_AFTER" default:"30m"`
	Interval   time.Duration `envconfig:"PUSHPAY_RECONCILE_INTERVAL" default:"10m"`
	BatchSize  int           `envconfig:"PUSHPAY_RECONCILE_BATCH_SIZE" default:"100"`
}

type HTTPConfig struct {
	CORSAllowedOrigins []string      `envconfig:"PUSHPAY_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	ReadHeaderTimeout  time.Duration `envconfig:"PUSHPAY_HTTP_READ_HEADER_TIMEOUT" default:"10s"`
	ShutdownTimeout    time.Duration `envconfig:"PUSHPAY_HTTP_SHUTDOWN_TIMEOUT" default:"75s"`
}

// RateLimitConfig bounds unauthenticated traffic to the payment endpoints. A zero limit disables that counter.
type RateLimitConfig struct {
	Window              time.Duration `envconfig:"PUSHPAY_RATE_LIMIT_WINDOW" default:"1m"`
	CreateLinkIPLimit   int           `envconfig:"PUSHPAY_RATE_LIMIT_CREATE_LINK_IP" default:"30"`
	ProcessIPLimit      int           `envconfig:"PUSHPAY_RATE_LIMIT_PROCESS_IP" default:"20"`
	ProcessPaymentLimit int           `envconfig:"PUSHPAY_RATE_LIMIT_PROCESS_PAYMENT" default:"5"`
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
