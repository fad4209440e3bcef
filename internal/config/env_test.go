package config

import (
	"os"
	"testing"
	"time"
)

func TestEnvOverrides_ServerConfig(t *testing.T) {
	// Save original env
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "MRGUN_SERVER_ADDRESS overrides default",
			envVars: map[string]string{
				"MRGUN_SERVER_ADDRESS": ":3000",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("Expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name: "MRGUN_ROUTE_PREFIX override is normalized",
			envVars: map[string]string{
				"MRGUN_ROUTE_PREFIX": "api",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.RoutePrefix != "/api" {
					t.Errorf("Expected /api, got %s", cfg.Server.RoutePrefix)
				}
			},
		},
		{
			name: "MRGUN_ADMIN_METRICS_API_KEY override",
			envVars: map[string]string{
				"MRGUN_ADMIN_METRICS_API_KEY": "metrics-secret",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.AdminMetricsAPIKey != "metrics-secret" {
					t.Errorf("Expected metrics-secret, got %s", cfg.Server.AdminMetricsAPIKey)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_AuthConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "MRGUN_AUTH_TOKEN_SECRET override",
			envVars: map[string]string{
				"MRGUN_AUTH_TOKEN_SECRET": "a-secret-of-sufficient-length-abc",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Auth.TokenSecret != "a-secret-of-sufficient-length-abc" {
					t.Errorf("Expected token secret override, got %s", cfg.Auth.TokenSecret)
				}
			},
		},
		{
			name: "MRGUN_AUTH_OPERATOR_TOKEN_TTL duration override (15m)",
			envVars: map[string]string{
				"MRGUN_AUTH_OPERATOR_TOKEN_TTL": "15m",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				expected := 15 * time.Minute
				if cfg.Auth.OperatorTokenTTL.Duration != expected {
					t.Errorf("Expected %v, got %v", expected, cfg.Auth.OperatorTokenTTL.Duration)
				}
			},
		},
		{
			name: "MRGUN_AUTH_HEADSET_TOKEN_TTL duration override (48h)",
			envVars: map[string]string{
				"MRGUN_AUTH_HEADSET_TOKEN_TTL": "48h",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				expected := 48 * time.Hour
				if cfg.Auth.HeadsetTokenTTL.Duration != expected {
					t.Errorf("Expected %v, got %v", expected, cfg.Auth.HeadsetTokenTTL.Duration)
				}
			},
		},
		{
			name: "MRGUN_AUTH_BCRYPT_COST integer override",
			envVars: map[string]string{
				"MRGUN_AUTH_BCRYPT_COST": "12",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Auth.BCryptCost != 12 {
					t.Errorf("Expected 12, got %d", cfg.Auth.BCryptCost)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_DatabaseConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "MRGUN_DATABASE_BACKEND override",
			envVars: map[string]string{
				"MRGUN_DATABASE_BACKEND": "memory",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Database.Backend != "memory" {
					t.Errorf("Expected memory, got %s", cfg.Database.Backend)
				}
			},
		},
		{
			name: "MRGUN_DATABASE_URL override",
			envVars: map[string]string{
				"MRGUN_DATABASE_URL": "postgresql://user:pass@db:5432/mrgun",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				expected := "postgresql://user:pass@db:5432/mrgun"
				if cfg.Database.PostgresURL != expected {
					t.Errorf("Expected %s, got %s", expected, cfg.Database.PostgresURL)
				}
			},
		},
		{
			name: "MRGUN_DATABASE_MAX_OPEN_CONNS integer override",
			envVars: map[string]string{
				"MRGUN_DATABASE_MAX_OPEN_CONNS": "50",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Database.Pool.MaxOpenConns != 50 {
					t.Errorf("Expected 50, got %d", cfg.Database.Pool.MaxOpenConns)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_BillingConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "MRGUN_BILLING_IDEMPOTENCY_WINDOW duration override (45s)",
			envVars: map[string]string{
				"MRGUN_BILLING_IDEMPOTENCY_WINDOW": "45s",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				expected := 45 * time.Second
				if cfg.Billing.IdempotencyWindow.Duration != expected {
					t.Errorf("Expected %v, got %v", expected, cfg.Billing.IdempotencyWindow.Duration)
				}
			},
		},
		{
			name: "MRGUN_BILLING_TX_MAX_RETRIES integer override",
			envVars: map[string]string{
				"MRGUN_BILLING_TX_MAX_RETRIES": "5",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Billing.TxMaxRetries != 5 {
					t.Errorf("Expected 5, got %d", cfg.Billing.TxMaxRetries)
				}
			},
		},
		{
			name: "MRGUN_BILLING_RECHARGE_ORDER_TTL duration override (4h)",
			envVars: map[string]string{
				"MRGUN_BILLING_RECHARGE_ORDER_TTL": "4h",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				expected := 4 * time.Hour
				if cfg.Billing.RechargeOrderTTL.Duration != expected {
					t.Errorf("Expected %v, got %v", expected, cfg.Billing.RechargeOrderTTL.Duration)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_IdempotencyConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "MRGUN_IDEMPOTENCY_BACKEND override",
			envVars: map[string]string{
				"MRGUN_IDEMPOTENCY_BACKEND": "redis",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Idempotency.Backend != "redis" {
					t.Errorf("Expected redis, got %s", cfg.Idempotency.Backend)
				}
			},
		},
		{
			name: "MRGUN_REDIS_ADDR override",
			envVars: map[string]string{
				"MRGUN_REDIS_ADDR": "redis:6379",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Idempotency.RedisAddr != "redis:6379" {
					t.Errorf("Expected redis:6379, got %s", cfg.Idempotency.RedisAddr)
				}
			},
		},
		{
			name: "MRGUN_REDIS_DB integer override",
			envVars: map[string]string{
				"MRGUN_REDIS_DB": "2",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Idempotency.RedisDB != 2 {
					t.Errorf("Expected 2, got %d", cfg.Idempotency.RedisDB)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_RateLimitConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "MRGUN_RATELIMIT_GLOBAL_ENABLED boolean (false)",
			envVars: map[string]string{
				"MRGUN_RATELIMIT_GLOBAL_ENABLED": "false",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.RateLimit.GlobalEnabled {
					t.Error("Expected GlobalEnabled to be false")
				}
			},
		},
		{
			name: "MRGUN_RATELIMIT_PER_OPERATOR_ENABLED boolean (1)",
			envVars: map[string]string{
				"MRGUN_RATELIMIT_PER_OPERATOR_ENABLED": "1",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if !cfg.RateLimit.PerOperatorEnabled {
					t.Error("Expected PerOperatorEnabled to be true with '1'")
				}
			},
		},
		{
			name: "MRGUN_RATELIMIT_PER_OPERATOR_LIMIT integer override",
			envVars: map[string]string{
				"MRGUN_RATELIMIT_PER_OPERATOR_LIMIT": "25",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.RateLimit.PerOperatorLimit != 25 {
					t.Errorf("Expected 25, got %d", cfg.RateLimit.PerOperatorLimit)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_CallbackHeaders(t *testing.T) {
	defer os.Clearenv()

	os.Setenv("MRGUN_CALLBACK_HEADER_AUTHORIZATION", "Bearer token123")
	os.Setenv("MRGUN_CALLBACK_HEADER_X_API_KEY", "api-key-456")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Callbacks.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("Expected Authorization header to be set, got %v", cfg.Callbacks.Headers)
	}

	if cfg.Callbacks.Headers["X-Api-Key"] != "api-key-456" {
		t.Errorf("Expected X-Api-Key header to be set, got %v", cfg.Callbacks.Headers)
	}
}

func TestEnvOverrides_MonitoringConfig(t *testing.T) {
	defer os.Clearenv()

	os.Setenv("MRGUN_MONITORING_LOW_BALANCE_ALERT_URL", "https://ops.example.com/alerts")
	os.Setenv("MRGUN_MONITORING_LOW_BALANCE_THRESHOLD", "200.00")
	os.Setenv("MRGUN_MONITORING_CHECK_INTERVAL", "5m")
	os.Setenv("MRGUN_MONITORING_HEADER_X_ALERT_KEY", "alert-key-789")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Monitoring.LowBalanceAlertURL != "https://ops.example.com/alerts" {
		t.Errorf("Expected alert URL override, got %s", cfg.Monitoring.LowBalanceAlertURL)
	}
	if cfg.Monitoring.LowBalanceThreshold != "200.00" {
		t.Errorf("Expected 200.00, got %s", cfg.Monitoring.LowBalanceThreshold)
	}
	if cfg.Monitoring.CheckInterval.Duration != 5*time.Minute {
		t.Errorf("Expected 5m, got %v", cfg.Monitoring.CheckInterval.Duration)
	}
	if cfg.Monitoring.Headers["X-Alert-Key"] != "alert-key-789" {
		t.Errorf("Expected X-Alert-Key header to be set, got %v", cfg.Monitoring.Headers)
	}
}
