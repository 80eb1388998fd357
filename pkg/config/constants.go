package config

const (
	EnvPrefix = "TRADEHUB"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "TRADEHUB_APP_ENV"
	EnvPort     = "TRADEHUB_APP_PORT"
	EnvLogLevel = "TRADEHUB_LOG_LEVEL"

	EnvDBDSN  = "TRADEHUB_DB_DSN"
	EnvDBHost = "TRADEHUB_DB_HOST"
	EnvDBUser = "TRADEHUB_DB_USER"
	EnvDBName = "TRADEHUB_DB_NAME"

	EnvRedisURL = "TRADEHUB_REDIS_URL"

	EnvGatewayBaseURL   = "TRADEHUB_GATEWAY_BASE_URL"
	EnvGatewayUsername  = "TRADEHUB_GATEWAY_USERNAME"
	EnvGatewaySharedKey = "TRADEHUB_GATEWAY_SHARED_KEY"

	EnvTaxRate = "TRADEHUB_TAX_RATE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
