package config

const EnvPrefix = "COMMISSION"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "COMMISSION_APP_ENV"
	EnvPort     = "COMMISSION_APP_PORT"
	EnvLogLevel = "COMMISSION_LOG_LEVEL"

	EnvDBDSN  = "COMMISSION_DB_DSN"
	EnvDBHost = "COMMISSION_DB_HOST"
	EnvDBUser = "COMMISSION_DB_USER"
	EnvDBName = "COMMISSION_DB_NAME"

	EnvRedisURL = "COMMISSION_REDIS_URL"

	EnvJWTSecret = "COMMISSION_JWT_SECRET"
	EnvJWTIssuer = "COMMISSION_JWT_ISSUER"

	EnvCommissionRate  = "COMMISSION_RATE"
	EnvEscrowPeriodMS  = "COMMISSION_ESCROW_PERIOD_MS"
	EnvMinimumPayout   = "COMMISSION_MINIMUM_PAYOUT"
	EnvSweepIntervalMS = "COMMISSION_SWEEP_INTERVAL_MS"

	EnvPayoutBatchSize     = "COMMISSION_PAYOUT_BATCH_SIZE"
	EnvPayoutRetryAttempts = "COMMISSION_PAYOUT_RETRY_ATTEMPTS"
	EnvPayoutOpsAccountID  = "COMMISSION_PAYOUT_OPS_ACCOUNT_ID"

	EnvWebhookSecret = "COMMISSION_WEBHOOK_SECRET"

	EnvGatewayBaseURL = "COMMISSION_GATEWAY_BASE_URL"

	EnvPubSubSubscriptionEventsTopic = "COMMISSION_PUBSUB_SUBSCRIPTION_EVENTS_TOPIC"

	EnvOutboxBatchSize   = "COMMISSION_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts = "COMMISSION_OUTBOX_MAX_ATTEMPTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
