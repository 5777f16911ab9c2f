package config

const (
	EnvPrefix = "COURSEMARKET"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultSQLiteDSN = "file:coursemarket.db?cache=shared&_foreign_keys=on"

	EnvAppEnv                 = "COURSEMARKET_APP_ENV"
	EnvPort                   = "COURSEMARKET_APP_PORT"
	EnvDBDSN                  = "COURSEMARKET_DB_DSN"
	EnvDBHost                 = "COURSEMARKET_DB_HOST"
	EnvDBUser                 = "COURSEMARKET_DB_USER"
	EnvDBName                 = "COURSEMARKET_DB_NAME"
	EnvRedisURL               = "COURSEMARKET_REDIS_URL"
	EnvJWTSecret              = "COURSEMARKET_JWT_SECRET"
	EnvJWTIssuer              = "COURSEMARKET_JWT_ISSUER"
	EnvUseSQLite              = "COURSEMARKET_USE_SQLITE"
	EnvCheckoutSuccessURL     = "COURSEMARKET_CHECKOUT_SUCCESS_URL"
	EnvCheckoutCancelURL      = "COURSEMARKET_CHECKOUT_CANCEL_URL"
	EnvCheckoutSessionTimeout = "COURSEMARKET_CHECKOUT_SESSION_TIMEOUT"
	EnvSweeperExpiryWindow    = "COURSEMARKET_SWEEPER_EXPIRY_WINDOW"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
