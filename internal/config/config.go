package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 35 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Database: DatabaseConfig{
			Backend: "postgres",
		},
		Auth: AuthConfig{
			OperatorTokenTTL: Duration{Duration: 30 * time.Minute},
			AdminTokenTTL:    Duration{Duration: 30 * time.Minute},
			HeadsetTokenTTL:  Duration{Duration: 24 * time.Hour},
			BCryptCost:       10,
		},
		Billing: BillingConfig{
			IdempotencyWindow: Duration{Duration: 30 * time.Second},
			TxMaxRetries:      3,
			TxRetryBaseDelay:  Duration{Duration: 50 * time.Millisecond},
			RechargeOrderTTL:  Duration{Duration: 2 * time.Hour},
			RequestTimeout:    Duration{Duration: 30 * time.Second},
		},
		RateLimit: RateLimitConfig{
			GlobalEnabled:      true,
			GlobalLimit:        1000,
			GlobalWindow:       Duration{Duration: 1 * time.Minute},
			PerOperatorEnabled: true,
			PerOperatorLimit:   10,
			PerOperatorWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:       true,
			PerIPLimit:         100,
			PerIPWindow:        Duration{Duration: 1 * time.Minute},
		},
		Idempotency: IdempotencyConfig{
			Backend:    "memory",
			TTL:        Duration{Duration: 24 * time.Hour},
			MaxEntries: 10000,
		},
		Callbacks: CallbacksConfig{
			Delivery: "direct",
			Headers:  make(map[string]string),
			Timeout:  Duration{Duration: 3 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: 1 * time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
			DLQBackend: "memory",
		},
		Monitoring: MonitoringConfig{
			LowBalanceThreshold: "100.00",
			CheckInterval:       Duration{Duration: 15 * time.Minute},
			Headers:             make(map[string]string),
			Timeout:             Duration{Duration: 5 * time.Second},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
			Alert: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
