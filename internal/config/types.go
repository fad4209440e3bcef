package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Database       DatabaseConfig       `yaml:"database"`
	Auth           AuthConfig           `yaml:"auth"`
	Billing        BillingConfig        `yaml:"billing"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g. "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics (empty disables protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// DatabaseConfig holds the ledger database configuration.
type DatabaseConfig struct {
	Backend     string             `yaml:"backend"`      // "postgres" or "memory"
	PostgresURL string             `yaml:"postgres_url"` // PostgreSQL connection string
	Pool        PostgresPoolConfig `yaml:"pool"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// AuthConfig holds token signing and credential hashing configuration.
type AuthConfig struct {
	// TokenSecret signs all session tokens (HMAC-SHA256). Must be at least
	// 32 bytes. Load from MRGUN_AUTH_TOKEN_SECRET in production.
	TokenSecret string `yaml:"token_secret"`

	OperatorTokenTTL Duration `yaml:"operator_token_ttl"` // Operator web sessions (default: 30m)
	AdminTokenTTL    Duration `yaml:"admin_token_ttl"`    // Admin/finance web sessions (default: 30m)
	HeadsetTokenTTL  Duration `yaml:"headset_token_ttl"`  // Headset sessions (default: 24h)

	BCryptCost int `yaml:"bcrypt_cost"` // Password hash cost (default: 10, minimum enforced)
}

// BillingConfig holds the billing engine tuneables.
type BillingConfig struct {
	// IdempotencyWindow is how long an identical business key
	// (operator, application, site, player_count) returns the prior
	// session instead of debiting again (default: 30s).
	IdempotencyWindow Duration `yaml:"idempotency_window"`

	TxMaxRetries      int      `yaml:"tx_max_retries"`      // Deadlock/serialisation retries (default: 3)
	TxRetryBaseDelay  Duration `yaml:"tx_retry_base_delay"` // Base delay before jitter (default: 50ms)
	RechargeOrderTTL  Duration `yaml:"recharge_order_ttl"`  // Pending order lifetime (default: 2h)
	RequestTimeout    Duration `yaml:"request_timeout"`     // Game auth endpoint deadline (default: 30s)
}

// RateLimitConfig holds rate limiting configuration.
// Thresholds mirror what the edge enforces; correctness never depends on them.
type RateLimitConfig struct {
	// Global rate limiting (across all clients)
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-operator rate limiting on game auth endpoints (keyed by token subject)
	PerOperatorEnabled bool     `yaml:"per_operator_enabled"`
	PerOperatorLimit   int      `yaml:"per_operator_limit"`
	PerOperatorWindow  Duration `yaml:"per_operator_window"`

	// Per-IP rate limiting (fallback when no operator identified)
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// IdempotencyConfig holds the Idempotency-Key response cache configuration
// used on operator-initiated POSTs (refund applications, recharge orders).
type IdempotencyConfig struct {
	Backend    string   `yaml:"backend"`     // "memory" or "redis" (default: memory)
	TTL        Duration `yaml:"ttl"`         // Cached response lifetime (default: 24h)
	MaxEntries int      `yaml:"max_entries"` // Memory backend LRU cap (default: 10000)

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// CallbacksConfig holds operator notification webhook configuration.
type CallbacksConfig struct {
	NotifyURL string            `yaml:"notify_url"` // Webhook endpoint for billing events (empty disables)
	Delivery  string            `yaml:"delivery"`   // "direct" (in-process retries) or "queued" (persistent queue, default direct)
	Headers   map[string]string `yaml:"headers"`
	Timeout   Duration          `yaml:"timeout"`
	Retry     RetryConfig       `yaml:"retry"`

	// Dead letter queue for deliveries that exhaust retries.
	DLQBackend         string `yaml:"dlq_backend"` // "memory", "postgres", or "mongodb"
	DLQMongoURL        string `yaml:"dlq_mongo_url"`
	DLQMongoDatabase   string `yaml:"dlq_mongo_database"`
	DLQMongoCollection string `yaml:"dlq_mongo_collection"`
}

// RetryConfig holds webhook retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`          // Enable retry with exponential backoff (default: true)
	MaxAttempts     int      `yaml:"max_attempts"`     // Maximum retry attempts (default: 5)
	InitialInterval Duration `yaml:"initial_interval"` // Initial backoff interval (default: 1s)
	MaxInterval     Duration `yaml:"max_interval"`     // Maximum backoff interval (default: 5m)
	Multiplier      float64  `yaml:"multiplier"`       // Backoff multiplier (default: 2.0)
}

// MonitoringConfig holds operator balance monitoring configuration.
type MonitoringConfig struct {
	LowBalanceAlertURL  string            `yaml:"low_balance_alert_url"` // Webhook URL for low balance alerts (empty disables)
	LowBalanceThreshold string            `yaml:"low_balance_threshold"` // CNY amount, e.g. "50.00" (default: "100.00")
	CheckInterval       Duration          `yaml:"check_interval"`        // How often to scan balances (default: 15m)
	Headers             map[string]string `yaml:"headers"`
	Timeout             Duration          `yaml:"timeout"` // Alert request timeout (default: 5s)
}

// CircuitBreakerConfig holds circuit breaker configuration for outbound calls.
// Prevents cascading failures by failing fast when webhook endpoints are degraded.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"` // Enable circuit breakers (default: true)
	Webhook BreakerServiceConfig `yaml:"webhook"` // Notification webhook delivery
	Alert   BreakerServiceConfig `yaml:"alert"`   // Low balance alert delivery
}

// BreakerServiceConfig configures a circuit breaker for a specific outbound target.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
