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
	Warehouse    WarehouseConfig
	DB           DBConfig
	Redis        RedisConfig
	Cache        CacheConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	BigQuery     BigQueryConfig
	PubSub       PubSubConfig
	Refresh      RefreshConfig
	Breaker      BreakerConfig
	Report       ReportConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Warehouse.validate(); err != nil {
		return nil, err
	}
	if cfg.Warehouse.UsesSQL() {
		if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ENGAGEMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"ENGAGEMENT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ENGAGEMENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ENGAGEMENT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ENGAGEMENT_SERVICE_KIND" default:"api"`
}

// WarehouseConfig selects where the interaction and survey extracts are read
// from and the earliest month each extract covers.
type WarehouseConfig struct {
	Driver           string        `envconfig:"ENGAGEMENT_WAREHOUSE_DRIVER" default:"bigquery"`
	InteractionTable string        `envconfig:"ENGAGEMENT_WAREHOUSE_INTERACTION_TABLE" default:"engagement_interaction_extract"`
	SurveyTable      string        `envconfig:"ENGAGEMENT_WAREHOUSE_SURVEY_TABLE" default:"engagement_survey_extract"`
	InteractionFloor string        `envconfig:"ENGAGEMENT_WAREHOUSE_INTERACTION_FLOOR" default:"2022-10"`
	SurveyFloor      string        `envconfig:"ENGAGEMENT_WAREHOUSE_SURVEY_FLOOR" default:"2022-01"`
	QueryTimeout     time.Duration `envconfig:"ENGAGEMENT_WAREHOUSE_QUERY_TIMEOUT" default:"2m"`
}

// UsesSQL reports whether extracts come from the relational warehouse.
func (w WarehouseConfig) UsesSQL() bool {
	return strings.EqualFold(w.Driver, WarehouseDriverPostgres)
}

func (w WarehouseConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(w.Driver)) {
	case WarehouseDriverBigQuery, WarehouseDriverPostgres:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvWarehouseDriver, WarehouseDriverBigQuery, WarehouseDriverPostgres)
	}
	if strings.TrimSpace(w.InteractionTable) == "" || strings.TrimSpace(w.SurveyTable) == "" {
		return fmt.Errorf("%s and %s are required", EnvWarehouseInteractionTable, EnvWarehouseSurveyTable)
	}
	return nil
}

type DBConfig struct {
	DSN    string `envconfig:"ENGAGEMENT_DB_DSN"`
	Driver string `envconfig:"ENGAGEMENT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"ENGAGEMENT_DB_HOST"`
	Port     int    `envconfig:"ENGAGEMENT_DB_PORT" default:"5432"`
	User     string `envconfig:"ENGAGEMENT_DB_USER"`
	Password string `envconfig:"ENGAGEMENT_DB_PASSWORD"`
	Name     string `envconfig:"ENGAGEMENT_DB_NAME"`
	SSLMode  string `envconfig:"ENGAGEMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ENGAGEMENT_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"ENGAGEMENT_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"ENGAGEMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ENGAGEMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ENGAGEMENT_REDIS_URL"`
	Address      string        `envconfig:"ENGAGEMENT_REDIS_ADDR"`
	Password     string        `envconfig:"ENGAGEMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"ENGAGEMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ENGAGEMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ENGAGEMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ENGAGEMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ENGAGEMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ENGAGEMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// CacheConfig bounds how long extracted snapshots are reused.
type CacheConfig struct {
	SnapshotTTL    time.Duration `envconfig:"ENGAGEMENT_CACHE_SNAPSHOT_TTL" default:"24h"`
	MemoryTTL      time.Duration `envconfig:"ENGAGEMENT_CACHE_MEMORY_TTL" default:"15m"`
	LoadTimeout    time.Duration `envconfig:"ENGAGEMENT_CACHE_LOAD_TIMEOUT" default:"2m"`
	IdempotencyTTL time.Duration `envconfig:"ENGAGEMENT_CACHE_IDEMPOTENCY_TTL" default:"72h"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ENGAGEMENT_JWT_SECRET"`
	Issuer            string `envconfig:"ENGAGEMENT_JWT_ISSUER" default:"engagement-metrics"`
	ExpirationMinutes int    `envconfig:"ENGAGEMENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Enabled reports whether bearer-token auth is enforced on the API.
func (j JWTConfig) Enabled() bool {
	return strings.TrimSpace(j.Secret) != ""
}

// RateLimitConfig throttles metric reads per client IP. A zero window or
// limit disables throttling.
type RateLimitConfig struct {
	Window         time.Duration `envconfig:"ENGAGEMENT_RATE_LIMIT_WINDOW" default:"1m"`
	Limit          int           `envconfig:"ENGAGEMENT_RATE_LIMIT_REQUESTS" default:"120"`
	AllowedOrigins []string      `envconfig:"ENGAGEMENT_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ENGAGEMENT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ENGAGEMENT_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ENGAGEMENT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ENGAGEMENT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ENGAGEMENT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type BigQueryConfig struct {
	Dataset string `envconfig:"ENGAGEMENT_BIGQUERY_DATASET" default:"dwh"`
}

type PubSubConfig struct {
	WarehouseRefreshSubscription string `envconfig:"ENGAGEMENT_PUBSUB_WAREHOUSE_REFRESH_SUBSCRIPTION"`
	MaxOutstandingMessages       int    `envconfig:"ENGAGEMENT_PUBSUB_MAX_OUTSTANDING" default:"10"`
}

// RefreshConfig drives the scheduled snapshot warm-up.
type RefreshConfig struct {
	Interval time.Duration `envconfig:"ENGAGEMENT_REFRESH_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"ENGAGEMENT_REFRESH_LOCK_TTL" default:"10m"`
	Warm     bool          `envconfig:"ENGAGEMENT_REFRESH_WARM" default:"true"`
}

// BreakerConfig tunes the circuit breaker around warehouse extraction.
type BreakerConfig struct {
	MaxFailures uint32        `envconfig:"ENGAGEMENT_BREAKER_MAX_FAILURES" default:"3"`
	OpenTimeout time.Duration `envconfig:"ENGAGEMENT_BREAKER_OPEN_TIMEOUT" default:"30s"`
	Interval    time.Duration `envconfig:"ENGAGEMENT_BREAKER_INTERVAL" default:"1m"`
}

// ReportConfig is used by the offline export command.
type ReportConfig struct {
	OutputDir string `envconfig:"ENGAGEMENT_REPORT_OUTPUT_DIR" default:"reports"`
	GCSBucket string `envconfig:"ENGAGEMENT_REPORT_GCS_BUCKET"`
	GCSPrefix string `envconfig:"ENGAGEMENT_REPORT_GCS_PREFIX" default:"engagement-metrics"`
}

// UploadEnabled reports whether exported files are also copied to GCS.
func (r ReportConfig) UploadEnabled() bool {
	return r.GCSBucket != ""
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if db.DSN != "" || sqlite {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
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
