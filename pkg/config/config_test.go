package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/assetvault/pkg/observability"
)

func lookupFrom(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(lookupFrom(map[string]string{
		"ASSETVAULT_HOST":                  " 127.0.0.1 ",
		"ASSETVAULT_HEALTH_PORT":           "",
		"ASSETVAULT_METRICS_ENABLED":       "0",
		"ASSETVAULT_REDIS_DB":              "3",
		"ASSETVAULT_NOTIFY_MAX_ATTEMPTS":   "5",
		"ASSETVAULT_SHUTDOWN_TIMEOUT":      "90s",
		"ASSETVAULT_RATE_LIMIT_PER_MINUTE": "0",
	}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "9090", cfg.Server.HealthPort, "blank values keep the default")
	assert.False(t, cfg.Observability.MetricsEnabled)
	assert.Equal(t, 3, cfg.Storage.RedisDB)
	assert.Equal(t, 5, cfg.Notify.MaxAttempts)
	assert.Equal(t, 90*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 0, cfg.Server.RateLimitPerMinute)
}

func TestApplyEnvReportsEveryBadValue(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(lookupFrom(map[string]string{
		"ASSETVAULT_CACHE_ENABLED":        "sometimes",
		"ASSETVAULT_POSTGRES_MAX_CONNS":   "0",
		"ASSETVAULT_NOTIFY_TIMEOUT":       "soon",
		"ASSETVAULT_MAX_SHARE_RECIPIENTS": "forty",
		"ASSETVAULT_PORT":                 "8181",
	}))
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, `ASSETVAULT_CACHE_ENABLED="sometimes"`)
	assert.Contains(t, msg, `ASSETVAULT_POSTGRES_MAX_CONNS="0": must be at least 1`)
	assert.Contains(t, msg, `ASSETVAULT_NOTIFY_TIMEOUT="soon"`)
	assert.Contains(t, msg, `ASSETVAULT_MAX_SHARE_RECIPIENTS="forty"`)

	// bad values leave the previous setting alone
	assert.True(t, cfg.Storage.CacheEnabled)
	assert.Equal(t, 100, cfg.Sharing.MaxRecipients)
	assert.Equal(t, "8181", cfg.Server.Port)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.True(t, cfg.Storage.CacheEnabled)
	assert.Equal(t, 100, cfg.Sharing.MaxRecipients)
	assert.Equal(t, 365, cfg.Audit.RetentionDays)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("ASSETVAULT_PORT", "8181")
	t.Setenv("ASSETVAULT_STORAGE_TYPE", "postgres")
	t.Setenv("ASSETVAULT_POSTGRES_URL", "postgres://localhost/assetvault")
	t.Setenv("ASSETVAULT_POSTGRES_REPLICA_URLS", "postgres://replica/assetvault")
	t.Setenv("ASSETVAULT_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ASSETVAULT_CACHE_ENABLED", "false")
	t.Setenv("ASSETVAULT_MAX_SHARE_RECIPIENTS", "25")
	t.Setenv("ASSETVAULT_LOG_LEVEL", "debug")
	t.Setenv("ASSETVAULT_AUDIT_RETENTION_DAYS", "0")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "postgres://localhost/assetvault", cfg.Storage.PostgresURL)
	assert.Equal(t, "postgres://replica/assetvault", cfg.Storage.PostgresReplicaURLs)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Storage.RedisURL)
	assert.False(t, cfg.Storage.CacheEnabled)
	assert.Equal(t, 25, cfg.Sharing.MaxRecipients)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 0, cfg.Audit.RetentionDays)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assetvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7000"
  shutdown_timeout: 5s
storage:
  type: postgres
  postgres_url: postgres://file/assetvault
cache:
  enabled: false
  grant_ttl: 1m
sharing:
  max_recipients: 10
notify:
  webhook_url: https://hooks.example.com/assetvault
audit:
  retention_days: 30
observability:
  log_level: warn
`), 0o600))

	t.Setenv("ASSETVAULT_CONFIG_FILE", path)
	t.Setenv("ASSETVAULT_WEBHOOK_SECRET", "s3cret")
	t.Setenv("ASSETVAULT_PORT", "7001")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "7001", cfg.Server.Port, "env wins over file")
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "postgres://file/assetvault", cfg.Storage.PostgresURL)
	assert.False(t, cfg.Storage.CacheEnabled)
	assert.Equal(t, time.Minute, cfg.Storage.GrantTTL)
	assert.Equal(t, 10, cfg.Sharing.MaxRecipients)
	assert.Equal(t, "https://hooks.example.com/assetvault", cfg.Notify.WebhookURL)
	assert.Equal(t, 30, cfg.Audit.RetentionDays)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_FileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("ASSETVAULT_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("bad duration", func(t *testing.T) {
		cfg := Default()
		err := cfg.ApplyYAML([]byte("notify:\n  timeout: eventually\n"))
		assert.ErrorContains(t, err, "invalid notify.timeout")
	})

	t.Run("malformed env", func(t *testing.T) {
		t.Setenv("ASSETVAULT_GRANT_TTL", "forever")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "ASSETVAULT_GRANT_TTL")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		cfg := Default()
		err := cfg.ApplyYAML([]byte("server: [unclosed"))
		assert.ErrorContains(t, err, "failed to parse config file")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port is required"},
		{"same ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }, "must be different"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "s3" }, "invalid storage type"},
		{"postgres without URL", func(c *Config) { c.Storage.Type = "postgres" }, "postgres URL is required"},
		{"no recipients", func(c *Config) { c.Sharing.MaxRecipients = 0 }, "max recipients"},
		{"webhook without secret", func(c *Config) { c.Notify.WebhookURL = "https://x" }, "webhook secret"},
		{"negative retention", func(c *Config) { c.Audit.RetentionDays = -1 }, "cannot be negative"},
		{"retention without schedule", func(c *Config) { c.Audit.CleanupSpec = "" }, "cleanup spec"},
		{"bad schedule", func(c *Config) { c.Audit.CleanupSpec = "every night" }, "invalid audit cleanup spec"},
		{"retention off ignores schedule", func(c *Config) { c.Audit.RetentionDays, c.Audit.CleanupSpec = 0, "" }, ""},
		{"no notify workers", func(c *Config) { c.Notify.Workers = 0 }, "notify workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = ""
	cfg.Storage.Type = "postgres"
	cfg.Sharing.MaxRecipients = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server port is required")
	assert.Contains(t, err.Error(), "postgres URL is required")
	assert.Contains(t, err.Error(), "max recipients must be positive")
}
