package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use MRGUN_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "MRGUN_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "MRGUN_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "MRGUN_ADMIN_METRICS_API_KEY")

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "MRGUN_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "MRGUN_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "MRGUN_ENVIRONMENT")

	// Database config
	setIfEnv(&c.Database.Backend, "MRGUN_DATABASE_BACKEND")
	setIfEnv(&c.Database.PostgresURL, "MRGUN_DATABASE_URL")
	setIntIfEnv(&c.Database.Pool.MaxOpenConns, "MRGUN_DATABASE_MAX_OPEN_CONNS")
	setIntIfEnv(&c.Database.Pool.MaxIdleConns, "MRGUN_DATABASE_MAX_IDLE_CONNS")
	setDurationIfEnv(&c.Database.Pool.ConnMaxLifetime, "MRGUN_DATABASE_CONN_MAX_LIFETIME")

	// Auth config
	setIfEnv(&c.Auth.TokenSecret, "MRGUN_AUTH_TOKEN_SECRET")
	setDurationIfEnv(&c.Auth.OperatorTokenTTL, "MRGUN_AUTH_OPERATOR_TOKEN_TTL")
	setDurationIfEnv(&c.Auth.AdminTokenTTL, "MRGUN_AUTH_ADMIN_TOKEN_TTL")
	setDurationIfEnv(&c.Auth.HeadsetTokenTTL, "MRGUN_AUTH_HEADSET_TOKEN_TTL")
	setIntIfEnv(&c.Auth.BCryptCost, "MRGUN_AUTH_BCRYPT_COST")

	// Billing config
	setDurationIfEnv(&c.Billing.IdempotencyWindow, "MRGUN_BILLING_IDEMPOTENCY_WINDOW")
	setIntIfEnv(&c.Billing.TxMaxRetries, "MRGUN_BILLING_TX_MAX_RETRIES")
	setDurationIfEnv(&c.Billing.RechargeOrderTTL, "MRGUN_BILLING_RECHARGE_ORDER_TTL")
	setDurationIfEnv(&c.Billing.RequestTimeout, "MRGUN_BILLING_REQUEST_TIMEOUT")

	// Idempotency cache config
	setIfEnv(&c.Idempotency.Backend, "MRGUN_IDEMPOTENCY_BACKEND")
	setDurationIfEnv(&c.Idempotency.TTL, "MRGUN_IDEMPOTENCY_TTL")
	setIfEnv(&c.Idempotency.RedisAddr, "MRGUN_REDIS_ADDR")
	setIfEnv(&c.Idempotency.RedisPassword, "MRGUN_REDIS_PASSWORD")
	setIntIfEnv(&c.Idempotency.RedisDB, "MRGUN_REDIS_DB")

	// Callbacks config
	setIfEnv(&c.Callbacks.NotifyURL, "MRGUN_CALLBACK_NOTIFY_URL")
	setIfEnv(&c.Callbacks.Delivery, "MRGUN_CALLBACK_DELIVERY")
	if v := os.Getenv("MRGUN_CALLBACK_TIMEOUT"); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			c.Callbacks.Timeout = Duration{Duration: dur}
		}
	}
	setIfEnv(&c.Callbacks.DLQBackend, "MRGUN_CALLBACK_DLQ_BACKEND")
	setIfEnv(&c.Callbacks.DLQMongoURL, "MRGUN_CALLBACK_DLQ_MONGO_URL")
	setIfEnv(&c.Callbacks.DLQMongoDatabase, "MRGUN_CALLBACK_DLQ_MONGO_DATABASE")
	setIfEnv(&c.Callbacks.DLQMongoCollection, "MRGUN_CALLBACK_DLQ_MONGO_COLLECTION")
	// Load callback headers (MRGUN_CALLBACK_HEADER_*)
	loadHeaderEnv(&c.Callbacks.Headers, "MRGUN_CALLBACK_HEADER_")

	// Monitoring config
	setIfEnv(&c.Monitoring.LowBalanceAlertURL, "MRGUN_MONITORING_LOW_BALANCE_ALERT_URL")
	setIfEnv(&c.Monitoring.LowBalanceThreshold, "MRGUN_MONITORING_LOW_BALANCE_THRESHOLD")
	setDurationIfEnv(&c.Monitoring.CheckInterval, "MRGUN_MONITORING_CHECK_INTERVAL")
	setDurationIfEnv(&c.Monitoring.Timeout, "MRGUN_MONITORING_TIMEOUT")
	// Load monitoring headers (MRGUN_MONITORING_HEADER_*)
	loadHeaderEnv(&c.Monitoring.Headers, "MRGUN_MONITORING_HEADER_")

	// Rate limit config
	setBoolIfEnv(&c.RateLimit.GlobalEnabled, "MRGUN_RATELIMIT_GLOBAL_ENABLED")
	setIntIfEnv(&c.RateLimit.GlobalLimit, "MRGUN_RATELIMIT_GLOBAL_LIMIT")
	setBoolIfEnv(&c.RateLimit.PerOperatorEnabled, "MRGUN_RATELIMIT_PER_OPERATOR_ENABLED")
	setIntIfEnv(&c.RateLimit.PerOperatorLimit, "MRGUN_RATELIMIT_PER_OPERATOR_LIMIT")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "MRGUN_RATELIMIT_PER_IP_ENABLED")
	setIntIfEnv(&c.RateLimit.PerIPLimit, "MRGUN_RATELIMIT_PER_IP_LIMIT")

	// Circuit breaker config
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "MRGUN_CIRCUIT_BREAKER_ENABLED")
}

// loadHeaderEnv collects HTTP headers from prefixed environment variables.
// MRGUN_CALLBACK_HEADER_X_SIGNATURE=abc -> "X-Signature: abc"
func loadHeaderEnv(headers *map[string]string, prefix string) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], prefix)
		if name == "" {
			continue
		}
		if *headers == nil {
			*headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		(*headers)[headerName] = parts[1]
	}
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	// Ensure it starts with /
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	// Ensure it doesn't end with /
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
