package config

const EnvPrefix = "CATALOG_MEDIA"

const (
	AppEnvDev        = "dev"
	AppEnvProd       = "prod"
	AppEnvProduction = "production"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	StorageBackendGCS = "gcs"
	StorageBackendFS  = "fs"

	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

const (
	EnvAppEnv   = "CATALOG_MEDIA_APP_ENV"
	EnvPort     = "CATALOG_MEDIA_APP_PORT"
	EnvLogLevel = "CATALOG_MEDIA_LOG_LEVEL"

	EnvDBDSN    = "CATALOG_MEDIA_DB_DSN"
	EnvDBDriver = "CATALOG_MEDIA_DB_DRIVER"
	EnvDBHost   = "CATALOG_MEDIA_DB_HOST"
	EnvDBUser   = "CATALOG_MEDIA_DB_USER"
	EnvDBName   = "CATALOG_MEDIA_DB_NAME"

	EnvUseSQLite = "CATALOG_MEDIA_USE_SQLITE"

	EnvRedisURL = "CATALOG_MEDIA_REDIS_URL"

	EnvStorageBackend = "CATALOG_MEDIA_STORAGE_BACKEND"
	EnvDedupScope     = "CATALOG_MEDIA_DEDUP_SCOPE"
	EnvLockBackend    = "CATALOG_MEDIA_LOCK_BACKEND"
	EnvMediumMaxEdge  = "CATALOG_MEDIA_MEDIUM_MAX_EDGE"
	EnvMediumQuality  = "CATALOG_MEDIA_MEDIUM_QUALITY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
