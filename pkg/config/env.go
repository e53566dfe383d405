package config

const (
	EnvPrefix = "PICKUP"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv       = "PICKUP_APP_ENV"
	EnvPort         = "PICKUP_APP_PORT"
	EnvLogLevel     = "PICKUP_LOG_LEVEL"
	EnvLogWarnStack = "PICKUP_LOG_WARN_STACK"

	EnvDBDSN    = "PICKUP_DB_DSN"
	EnvDBDriver = "PICKUP_DB_DRIVER"

	EnvRedisURL = "PICKUP_REDIS_URL"

	EnvLocalStoreDriver = "PICKUP_LOCAL_STORE_DRIVER"
	EnvLocalStorePath   = "PICKUP_LOCAL_STORE_PATH"

	EnvIdentitySecret = "PICKUP_IDENTITY_JWT_SECRET"
	EnvIdentityIssuer = "PICKUP_IDENTITY_JWT_ISSUER"

	EnvPayUKey        = "PICKUP_PAYU_MERCHANT_KEY"
	EnvPayUSalt       = "PICKUP_PAYU_MERCHANT_SALT"
	EnvPayUEndpoint   = "PICKUP_PAYU_ENDPOINT"
	EnvPayUSuccessURL = "PICKUP_PAYU_SUCCESS_URL"
	EnvPayUFailureURL = "PICKUP_PAYU_FAILURE_URL"

	EnvGCPProjectID          = "PICKUP_GCP_PROJECT_ID"
	EnvPubSubOrderEventTopic = "PICKUP_PUBSUB_ORDER_EVENTS_TOPIC"
)
