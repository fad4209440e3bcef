package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mrgun/server/internal/money"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	// Apply defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Database.Backend == "" {
		c.Database.Backend = "postgres"
	}

	if c.Auth.OperatorTokenTTL.Duration <= 0 {
		c.Auth.OperatorTokenTTL = Duration{Duration: 30 * time.Minute}
	}
	if c.Auth.AdminTokenTTL.Duration <= 0 {
		c.Auth.AdminTokenTTL = Duration{Duration: 30 * time.Minute}
	}
	if c.Auth.HeadsetTokenTTL.Duration <= 0 {
		c.Auth.HeadsetTokenTTL = Duration{Duration: 24 * time.Hour}
	}
	// Cost below 10 weakens credential hashing; never allow it.
	if c.Auth.BCryptCost < 10 {
		c.Auth.BCryptCost = 10
	}

	if c.Billing.IdempotencyWindow.Duration <= 0 {
		c.Billing.IdempotencyWindow = Duration{Duration: 30 * time.Second}
	}
	if c.Billing.TxMaxRetries <= 0 {
		c.Billing.TxMaxRetries = 3
	}
	if c.Billing.TxRetryBaseDelay.Duration <= 0 {
		c.Billing.TxRetryBaseDelay = Duration{Duration: 50 * time.Millisecond}
	}
	if c.Billing.RechargeOrderTTL.Duration <= 0 {
		c.Billing.RechargeOrderTTL = Duration{Duration: 2 * time.Hour}
	}
	if c.Billing.RequestTimeout.Duration <= 0 {
		c.Billing.RequestTimeout = Duration{Duration: 30 * time.Second}
	}

	if c.Idempotency.Backend == "" {
		c.Idempotency.Backend = "memory"
	}
	if c.Idempotency.TTL.Duration <= 0 {
		c.Idempotency.TTL = Duration{Duration: 24 * time.Hour}
	}
	if c.Idempotency.MaxEntries <= 0 {
		c.Idempotency.MaxEntries = 10000
	}

	if c.Callbacks.Timeout.Duration <= 0 {
		c.Callbacks.Timeout = Duration{Duration: 3 * time.Second}
	}
	if c.Callbacks.Delivery == "" {
		c.Callbacks.Delivery = "direct"
	}
	if c.Callbacks.Headers == nil {
		c.Callbacks.Headers = make(map[string]string)
	}
	if c.Callbacks.DLQBackend == "" {
		c.Callbacks.DLQBackend = "memory"
	}
	if c.Callbacks.DLQMongoCollection == "" {
		c.Callbacks.DLQMongoCollection = "webhook_dead_letters"
	}

	if c.Monitoring.LowBalanceThreshold == "" {
		c.Monitoring.LowBalanceThreshold = "100.00"
	}
	if c.Monitoring.CheckInterval.Duration <= 0 {
		c.Monitoring.CheckInterval = Duration{Duration: 15 * time.Minute}
	}
	if c.Monitoring.Timeout.Duration <= 0 {
		c.Monitoring.Timeout = Duration{Duration: 5 * time.Second}
	}
	if c.Monitoring.Headers == nil {
		c.Monitoring.Headers = make(map[string]string)
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	// Token secret is the root of all session security.
	if c.Auth.TokenSecret == "" {
		errs = append(errs, "auth.token_secret is required (set MRGUN_AUTH_TOKEN_SECRET)")
	} else if len(c.Auth.TokenSecret) < 32 {
		errs = append(errs, fmt.Sprintf("auth.token_secret must be at least 32 bytes, got %d", len(c.Auth.TokenSecret)))
	}

	switch c.Database.Backend {
	case "postgres":
		if c.Database.PostgresURL == "" {
			errs = append(errs, "database.postgres_url is required when backend is 'postgres'")
		}
	case "memory":
		// In-memory ledger is for development and tests only.
	default:
		errs = append(errs, fmt.Sprintf("database.backend must be 'postgres' or 'memory', got %q", c.Database.Backend))
	}

	switch c.Idempotency.Backend {
	case "memory":
	case "redis":
		if c.Idempotency.RedisAddr == "" {
			errs = append(errs, "idempotency.redis_addr is required when backend is 'redis'")
		}
	default:
		errs = append(errs, fmt.Sprintf("idempotency.backend must be 'memory' or 'redis', got %q", c.Idempotency.Backend))
	}

	switch c.Callbacks.Delivery {
	case "direct", "queued":
	default:
		errs = append(errs, fmt.Sprintf("callbacks.delivery must be 'direct' or 'queued', got %q", c.Callbacks.Delivery))
	}

	switch c.Callbacks.DLQBackend {
	case "memory", "postgres":
	case "mongodb":
		if c.Callbacks.DLQMongoURL == "" {
			errs = append(errs, "callbacks.dlq_mongo_url is required when dlq_backend is 'mongodb'")
		}
		if c.Callbacks.DLQMongoDatabase == "" {
			errs = append(errs, "callbacks.dlq_mongo_database is required when dlq_backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("callbacks.dlq_backend must be 'memory', 'postgres' or 'mongodb', got %q", c.Callbacks.DLQBackend))
	}

	if _, err := money.Parse(c.Monitoring.LowBalanceThreshold); err != nil {
		errs = append(errs, fmt.Sprintf("monitoring.low_balance_threshold %q is not a valid CNY amount", c.Monitoring.LowBalanceThreshold))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// LowBalanceThresholdAmount parses the configured threshold. Call only after
// Load has validated the config.
func (m MonitoringConfig) LowBalanceThresholdAmount() money.Amount {
	a, err := money.Parse(m.LowBalanceThreshold)
	if err != nil {
		return money.Zero()
	}
	return a
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25 // default
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5 // default
	}

	// Validate: maxIdle cannot exceed maxOpen
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute // default
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
