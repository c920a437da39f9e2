package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/assetvault/pkg/observability"
	"github.com/platinummonkey/assetvault/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration, including the redis grant cache
	Storage storage.Config

	Sharing SharingConfig
	Notify  NotifyConfig
	Audit   AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// UsersFile optionally seeds users from YAML at startup
	UsersFile string

	// RateLimitPerMinute caps requests per user
	RateLimitPerMinute int
}

// SharingConfig bounds share requests
type SharingConfig struct {
	MaxRecipients int
}

// NotifyConfig selects how notifications are delivered.
// An empty WebhookURL logs notifications instead of posting them.
type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
	Timeout       time.Duration
	Workers       int
	MaxAttempts   int
}

// AuditConfig controls audit retention
type AuditConfig struct {
	RetentionDays int
	CleanupSpec   string // five-field cron spec
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// fileConfig is the YAML overlay. Zero values leave defaults in place.
type fileConfig struct {
	Server struct {
		Host            string `yaml:"host"`
		Port            string `yaml:"port"`
		HealthPort      string `yaml:"health_port"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
		UsersFile       string `yaml:"users_file"`
	} `yaml:"server"`
	Storage struct {
		Type                string `yaml:"type"`
		PostgresURL         string `yaml:"postgres_url"`
		PostgresReplicaURLs string `yaml:"postgres_replica_urls"`
		PostgresMaxConns    int    `yaml:"postgres_max_conns"`
	} `yaml:"storage"`
	Cache struct {
		Enabled     *bool  `yaml:"enabled"`
		RedisURL    string `yaml:"redis_url"`
		RedisDB     *int   `yaml:"redis_db"`
		GrantTTL    string `yaml:"grant_ttl"`
		L1CacheSize int    `yaml:"l1_size"`
		L1CacheTTL  string `yaml:"l1_ttl"`
	} `yaml:"cache"`
	Sharing struct {
		MaxRecipients int `yaml:"max_recipients"`
	} `yaml:"sharing"`
	Notify struct {
		WebhookURL  string `yaml:"webhook_url"`
		Timeout     string `yaml:"timeout"`
		Workers     int    `yaml:"workers"`
		MaxAttempts int    `yaml:"max_attempts"`
	} `yaml:"notify"`
	Audit struct {
		RetentionDays *int   `yaml:"retention_days"`
		CleanupSpec   string `yaml:"cleanup_spec"`
	} `yaml:"audit"`
	Observability struct {
		LogLevel       string `yaml:"log_level"`
		MetricsEnabled *bool  `yaml:"metrics_enabled"`
	} `yaml:"observability"`
}

// LoadConfig builds configuration from defaults, the optional YAML file named by
// ASSETVAULT_CONFIG_FILE, then environment variables, in that order.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.ApplyYAML(data); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               "8080",
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       15 * time.Second,
			IdleTimeout:        60 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			HealthPort:         "9090",
			RateLimitPerMinute: 600,
		},
		Storage: storage.DefaultConfig(),
		Sharing: SharingConfig{MaxRecipients: 100},
		Notify: NotifyConfig{
			Timeout:     5 * time.Second,
			Workers:     4,
			MaxAttempts: 3,
		},
		Audit: AuditConfig{
			RetentionDays: 365,
			CleanupSpec:   "0 3 * * *",
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.InfoLevel,
			MetricsEnabled: true,
		},
	}
}

// ApplyYAML overlays the values set in data onto c
func (c *Config) ApplyYAML(data []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&c.Server.Host, f.Server.Host)
	setString(&c.Server.Port, f.Server.Port)
	setString(&c.Server.HealthPort, f.Server.HealthPort)
	setString(&c.Server.UsersFile, f.Server.UsersFile)
	if err := setDuration(&c.Server.ReadTimeout, "server.read_timeout", f.Server.ReadTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.Server.WriteTimeout, "server.write_timeout", f.Server.WriteTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.Server.ShutdownTimeout, "server.shutdown_timeout", f.Server.ShutdownTimeout); err != nil {
		return err
	}

	setString(&c.Storage.Type, f.Storage.Type)
	setString(&c.Storage.PostgresURL, f.Storage.PostgresURL)
	setString(&c.Storage.PostgresReplicaURLs, f.Storage.PostgresReplicaURLs)
	setInt(&c.Storage.PostgresMaxConns, f.Storage.PostgresMaxConns)

	if f.Cache.Enabled != nil {
		c.Storage.CacheEnabled = *f.Cache.Enabled
	}
	setString(&c.Storage.RedisURL, f.Cache.RedisURL)
	if f.Cache.RedisDB != nil {
		c.Storage.RedisDB = *f.Cache.RedisDB
	}
	setInt(&c.Storage.L1CacheSize, f.Cache.L1CacheSize)
	if err := setDuration(&c.Storage.GrantTTL, "cache.grant_ttl", f.Cache.GrantTTL); err != nil {
		return err
	}
	if err := setDuration(&c.Storage.L1CacheTTL, "cache.l1_ttl", f.Cache.L1CacheTTL); err != nil {
		return err
	}

	setInt(&c.Sharing.MaxRecipients, f.Sharing.MaxRecipients)

	setString(&c.Notify.WebhookURL, f.Notify.WebhookURL)
	setInt(&c.Notify.Workers, f.Notify.Workers)
	setInt(&c.Notify.MaxAttempts, f.Notify.MaxAttempts)
	if err := setDuration(&c.Notify.Timeout, "notify.timeout", f.Notify.Timeout); err != nil {
		return err
	}

	if f.Audit.RetentionDays != nil {
		c.Audit.RetentionDays = *f.Audit.RetentionDays
	}
	setString(&c.Audit.CleanupSpec, f.Audit.CleanupSpec)

	if f.Observability.LogLevel != "" {
		c.Observability.LogLevel = observability.ParseLogLevel(f.Observability.LogLevel)
	}
	if f.Observability.MetricsEnabled != nil {
		c.Observability.MetricsEnabled = *f.Observability.MetricsEnabled
	}
	return nil
}

const envPrefix = "ASSETVAULT_"

// env reads ASSETVAULT_* variables through lookup and remembers every value
// that failed to parse so they can be reported together.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) raw(name string) (string, bool) {
	v, ok := e.lookup(envPrefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(name, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s%s=%q: %w", envPrefix, name, v, err))
}

func (e *env) str(dst *string, name string) {
	if v, ok := e.raw(name); ok {
		*dst = v
	}
}

func (e *env) boolean(dst *bool, name string) {
	v, ok := e.raw(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

// integer sets dst when the variable is set and at least floor
func (e *env) integer(dst *int, name string, floor int) {
	v, ok := e.raw(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err == nil && n < floor {
		err = fmt.Errorf("must be at least %d", floor)
	}
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *env) duration(dst *time.Duration, name string) {
	v, ok := e.raw(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = d
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := &env{lookup: lookup}

	e.str(&c.Server.Host, "HOST")
	e.str(&c.Server.Port, "PORT")
	e.str(&c.Server.HealthPort, "HEALTH_PORT")
	e.str(&c.Server.UsersFile, "USERS_FILE")
	e.duration(&c.Server.ReadTimeout, "READ_TIMEOUT")
	e.duration(&c.Server.WriteTimeout, "WRITE_TIMEOUT")
	e.duration(&c.Server.IdleTimeout, "IDLE_TIMEOUT")
	e.duration(&c.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT")
	e.integer(&c.Server.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE", 0)

	e.str(&c.Storage.Type, "STORAGE_TYPE")
	e.str(&c.Storage.PostgresURL, "POSTGRES_URL")
	e.str(&c.Storage.PostgresReplicaURLs, "POSTGRES_REPLICA_URLS")
	e.integer(&c.Storage.PostgresMaxConns, "POSTGRES_MAX_CONNS", 1)
	e.integer(&c.Storage.PostgresMinConns, "POSTGRES_MIN_CONNS", 0)
	e.duration(&c.Storage.PostgresTimeout, "POSTGRES_TIMEOUT")

	e.str(&c.Storage.RedisURL, "REDIS_URL")
	e.str(&c.Storage.RedisPassword, "REDIS_PASSWORD")
	e.integer(&c.Storage.RedisDB, "REDIS_DB", 0)
	e.integer(&c.Storage.RedisPoolSize, "REDIS_POOL_SIZE", 1)
	e.boolean(&c.Storage.CacheEnabled, "CACHE_ENABLED")
	e.duration(&c.Storage.GrantTTL, "GRANT_TTL")
	e.integer(&c.Storage.L1CacheSize, "L1_CACHE_SIZE", 1)
	e.duration(&c.Storage.L1CacheTTL, "L1_CACHE_TTL")

	e.integer(&c.Sharing.MaxRecipients, "MAX_SHARE_RECIPIENTS", 1)

	e.str(&c.Notify.WebhookURL, "WEBHOOK_URL")
	e.str(&c.Notify.WebhookSecret, "WEBHOOK_SECRET")
	e.duration(&c.Notify.Timeout, "NOTIFY_TIMEOUT")
	e.integer(&c.Notify.Workers, "NOTIFY_WORKERS", 1)
	e.integer(&c.Notify.MaxAttempts, "NOTIFY_MAX_ATTEMPTS", 1)

	e.integer(&c.Audit.RetentionDays, "AUDIT_RETENTION_DAYS", 0)
	e.str(&c.Audit.CleanupSpec, "AUDIT_CLEANUP_SPEC")

	var level string
	e.str(&level, "LOG_LEVEL")
	if level != "" {
		c.Observability.LogLevel = observability.ParseLogLevel(level)
	}
	e.boolean(&c.Observability.MetricsEnabled, "METRICS_ENABLED")

	return errors.Join(e.errs...)
}

// Validate reports every problem with the configuration at once
func (c *Config) Validate() error {
	var errs []error
	check := func(failed bool, format string, args ...any) {
		if failed {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port == "", "server port is required")
	check(c.Server.HealthPort == "", "health port is required")
	check(c.Server.Port != "" && c.Server.Port == c.Server.HealthPort,
		"server port and health port must be different")

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		check(c.Storage.PostgresURL == "", "postgres URL is required for postgres storage")
	default:
		check(true, "invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	check(c.Sharing.MaxRecipients <= 0, "sharing max recipients must be positive")
	check(c.Notify.WebhookURL != "" && c.Notify.WebhookSecret == "",
		"webhook secret is required when a webhook URL is set")
	check(c.Notify.Workers <= 0, "notify workers must be positive")
	check(c.Notify.MaxAttempts <= 0, "notify max attempts must be positive")

	check(c.Audit.RetentionDays < 0, "audit retention days cannot be negative")
	if c.Audit.RetentionDays > 0 {
		if c.Audit.CleanupSpec == "" {
			check(true, "audit cleanup spec is required when retention is enabled")
		} else if _, err := cron.ParseStandard(c.Audit.CleanupSpec); err != nil {
			check(true, "invalid audit cleanup spec %q: %v", c.Audit.CleanupSpec, err)
		}
	}

	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, field, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	*dst = d
	return nil
}
