package config

const (
	EnvPrefix = "PUSHPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "PUSHPAY_APP_ENV"
	EnvPort   = "PUSHPAY_APP_PORT"

	EnvDBDSN  = "PUSHPAY_DB_DSN"
	EnvDBHost = "PUSHPAY_DB_HOST"
	EnvDBUser = "PUSHPAY_DB_USER"
	EnvDBName = "PUSHPAY_DB_NAME"

	EnvRedisURL = "PUSHPAY_REDIS_URL"

	EnvJWTSecret = "PUSHPAY_JWT_SECRET"
	EnvJWTIssuer = "PUSHPAY_JWT_ISSUER"

	EnvVisaAPIURL       = "PUSHPAY_VISA_API_URL"
	EnvVisaUserID       = "PUSHPAY_VISA_USER_ID"
	EnvVisaPassword     = "PUSHPAY_VISA_PASSWORD"
	EnvVisaCert         = "PUSHPAY_VISA_CERT"
	EnvVisaPrivateKey   = "PUSHPAY_VISA_PRIVATE_KEY"
	EnvVisaPollAttempts = "PUSHPAY_VISA_STATUS_POLL_ATTEMPTS"
	EnvVisaPollInterval = "PUSHPAY_VISA_STATUS_POLL_INTERVAL"

	EnvFrontendURL         = "PUSHPAY_FRONTEND_URL"
	EnvSupportedCurrencies = "PUSHPAY_SUPPORTED_CURRENCIES"

	EnvCORSOrigins         = "PUSHPAY_CORS_ALLOWED_ORIGINS"
	EnvHTTPShutdownTimeout = "PUSHPAY_HTTP_SHUTDOWN_TIMEOUT"

	EnvReconcileStaleAfter = "PUSHPAY_RECONCILE_STALE_AFTER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
