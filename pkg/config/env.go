package config

const EnvPrefix = "ENGAGEMENT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	WarehouseDriverBigQuery = "bigquery"
	WarehouseDriverPostgres = "postgres"
)

const (
	EnvAppEnv   = "ENGAGEMENT_APP_ENV"
	EnvPort     = "ENGAGEMENT_APP_PORT"
	EnvLogLevel = "ENGAGEMENT_LOG_LEVEL"

	EnvWarehouseDriver           = "ENGAGEMENT_WAREHOUSE_DRIVER"
	EnvWarehouseInteractionTable = "ENGAGEMENT_WAREHOUSE_INTERACTION_TABLE"
	EnvWarehouseSurveyTable      = "ENGAGEMENT_WAREHOUSE_SURVEY_TABLE"

	EnvDBDSN  = "ENGAGEMENT_DB_DSN"
	EnvDBHost = "ENGAGEMENT_DB_HOST"
	EnvDBUser = "ENGAGEMENT_DB_USER"
	EnvDBName = "ENGAGEMENT_DB_NAME"

	EnvRedisURL     = "ENGAGEMENT_REDIS_URL"
	EnvJWTSecret    = "ENGAGEMENT_JWT_SECRET"
	EnvUseSQLite    = "ENGAGEMENT_USE_SQLITE"
	EnvGCPProjectID = "ENGAGEMENT_GCP_PROJECT_ID"

	EnvPubSubRefreshSub = "ENGAGEMENT_PUBSUB_WAREHOUSE_REFRESH_SUBSCRIPTION"
	EnvRefreshInterval  = "ENGAGEMENT_REFRESH_INTERVAL"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
