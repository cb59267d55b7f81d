package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	GCS          GCSConfig
	Storage      StorageConfig
	Imaging      ImagingConfig
	Dedup        DedupConfig
	Locks        LocksConfig
	Retry        RetryConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Eventing     EventingConfig
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CATALOG_MEDIA_APP_ENV" required:"true" validate:"oneof=dev staging prod production test"`
	Port         string `envconfig:"CATALOG_MEDIA_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CATALOG_MEDIA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CATALOG_MEDIA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, AppEnvProduction)
}

type ServiceConfig struct {
	Kind string `envconfig:"CATALOG_MEDIA_SERVICE_KIND" default:"ingest-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"CATALOG_MEDIA_DB_DSN"`
	Driver string `envconfig:"CATALOG_MEDIA_DB_DRIVER" default:"postgres" validate:"oneof=postgres sqlite"`

	LegacyHost     string `envconfig:"CATALOG_MEDIA_DB_HOST"`
	LegacyPort     int    `envconfig:"CATALOG_MEDIA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CATALOG_MEDIA_DB_USER"`
	LegacyPassword string `envconfig:"CATALOG_MEDIA_DB_PASSWORD"`
	LegacyName     string `envconfig:"CATALOG_MEDIA_DB_NAME"`
	LegacySSLMode  string `envconfig:"CATALOG_MEDIA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CATALOG_MEDIA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CATALOG_MEDIA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CATALOG_MEDIA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CATALOG_MEDIA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery logs statements slower than this at warn. Zero disables it.
	SlowQuery time.Duration `envconfig:"CATALOG_MEDIA_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CATALOG_MEDIA_REDIS_URL"`
	Address      string        `envconfig:"CATALOG_MEDIA_REDIS_ADDR"`
	Password     string        `envconfig:"CATALOG_MEDIA_REDIS_PASSWORD"`
	DB           int           `envconfig:"CATALOG_MEDIA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CATALOG_MEDIA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CATALOG_MEDIA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CATALOG_MEDIA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CATALOG_MEDIA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CATALOG_MEDIA_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"CATALOG_MEDIA_REDIS_KEY_PREFIX" default:"cm"`
}

// Enabled reports whether any redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CATALOG_MEDIA_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CATALOG_MEDIA_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CATALOG_MEDIA_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CATALOG_MEDIA_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CATALOG_MEDIA_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	AssetsBucket  string `envconfig:"CATALOG_MEDIA_GCS_ASSETS_BUCKET"`
	UploadsBucket string `envconfig:"CATALOG_MEDIA_GCS_UPLOADS_BUCKET"`
	// PublicBaseURL overrides https://storage.googleapis.com/<bucket> when a CDN fronts the bucket.
	PublicBaseURL string `envconfig:"CATALOG_MEDIA_GCS_PUBLIC_BASE_URL"`
}

type StorageConfig struct {
	Backend       string        `envconfig:"CATALOG_MEDIA_STORAGE_BACKEND" default:"gcs" validate:"oneof=gcs fs"`
	FSRoot        string        `envconfig:"CATALOG_MEDIA_STORAGE_FS_ROOT" default:"./var/blobs"`
	FSBaseURL     string        `envconfig:"CATALOG_MEDIA_STORAGE_FS_BASE_URL" default:"file:///var/blobs"`
	KeyPrefix     string        `envconfig:"CATALOG_MEDIA_STORAGE_KEY_PREFIX" default:"blobs"`
	DeleteTimeout time.Duration `envconfig:"CATALOG_MEDIA_STORAGE_DELETE_TIMEOUT" default:"30s"`
}

type ImagingConfig struct {
	MaxUploadMB int `envconfig:"CATALOG_MEDIA_MAX_UPLOAD_MB" default:"25" validate:"gt=0"`
	Concurrency int `envconfig:"CATALOG_MEDIA_IMAGING_CONCURRENCY" default:"3" validate:"gt=0"`

	ThumbnailMaxEdge int `envconfig:"CATALOG_MEDIA_THUMBNAIL_MAX_EDGE" default:"200" validate:"gt=0"`
	ThumbnailQuality int `envconfig:"CATALOG_MEDIA_THUMBNAIL_QUALITY" default:"80" validate:"gte=1,lte=100"`
	MediumMaxEdge    int `envconfig:"CATALOG_MEDIA_MEDIUM_MAX_EDGE" default:"800" validate:"gt=0"`
	MediumQuality    int `envconfig:"CATALOG_MEDIA_MEDIUM_QUALITY" default:"85" validate:"gte=1,lte=100"`
	FullMaxEdge      int `envconfig:"CATALOG_MEDIA_FULL_MAX_EDGE" default:"2048" validate:"gt=0"`
	FullQuality      int `envconfig:"CATALOG_MEDIA_FULL_QUALITY" default:"90" validate:"gte=1,lte=100"`
}

// MaxUploadBytes converts the configured megabyte ceiling to bytes.
func (i ImagingConfig) MaxUploadBytes() int {
	return i.MaxUploadMB << 20
}

type DedupConfig struct {
	Scope string `envconfig:"CATALOG_MEDIA_DEDUP_SCOPE" default:"global" validate:"oneof=global local"`
}

type LocksConfig struct {
	Backend      string        `envconfig:"CATALOG_MEDIA_LOCK_BACKEND" default:"local" validate:"oneof=local redis"`
	TTL          time.Duration `envconfig:"CATALOG_MEDIA_LOCK_TTL" default:"30s"`
	PollInterval time.Duration `envconfig:"CATALOG_MEDIA_LOCK_POLL_INTERVAL" default:"25ms"`
}

type RetryConfig struct {
	StorageMaxRetries uint64        `envconfig:"CATALOG_MEDIA_STORAGE_MAX_RETRIES" default:"4"`
	StorageBaseDelay  time.Duration `envconfig:"CATALOG_MEDIA_STORAGE_BASE_DELAY" default:"100ms"`
	StorageMaxDelay   time.Duration `envconfig:"CATALOG_MEDIA_STORAGE_MAX_DELAY" default:"2s"`
}

type PubSubConfig struct {
	IntakeSubscription string `envconfig:"CATALOG_MEDIA_PUBSUB_INTAKE_SUBSCRIPTION"`
	EventsTopic        string `envconfig:"CATALOG_MEDIA_PUBSUB_EVENTS_TOPIC" default:"catalog-media-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CATALOG_MEDIA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CATALOG_MEDIA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CATALOG_MEDIA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval      time.Duration `envconfig:"CATALOG_MEDIA_CRON_INTERVAL" default:"5m"`
	LockTTL       time.Duration `envconfig:"CATALOG_MEDIA_CRON_LOCK_TTL" default:"4m"`
	BlobGCGrace   time.Duration `envconfig:"CATALOG_MEDIA_BLOB_GC_GRACE" default:"1h"`
	BlobGCBatch   int           `envconfig:"CATALOG_MEDIA_BLOB_GC_BATCH" default:"200"`
	ReconcileSize int           `envconfig:"CATALOG_MEDIA_PRIMARY_RECONCILE_BATCH" default:"100"`
	// OutboxRetention bounds how long published outbox rows are kept.
	OutboxRetention time.Duration `envconfig:"CATALOG_MEDIA_OUTBOX_RETENTION" default:"720h"`
	// DLQRetention bounds dead letters by failed_at. Zero keeps them.
	DLQRetention time.Duration `envconfig:"CATALOG_MEDIA_DLQ_RETENTION" default:"2160h"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"CATALOG_MEDIA_EVENTING_IDEMPOTENCY_TTL" default:"168h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.Driver == DBDriverSQLite {
		db.DSN = "file:catalog-media.db?_foreign_keys=on"
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
