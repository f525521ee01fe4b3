package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"

	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	AES       AESConfig       `mapstructure:"aes"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	Events    EventsConfig    `mapstructure:"events"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Mode        string `mapstructure:"mode"`        // debug, release, test
	Environment string `mapstructure:"environment"` // development, production
}

// IsProduction reports whether production hardening applies: HTTPS-only
// webhook URLs, DNS resolve-then-check and reduced error detail.
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, EnvironmentProduction)
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type AuthConfig struct {
	// AdminToken guards partner provisioning and event ingestion.
	// Admin routes are not mounted when it is empty.
	AdminToken string `mapstructure:"admin_token"`
}

type RateLimitConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	WebhookMutations int           `mapstructure:"webhook_mutations"`
	WebhookWindow    time.Duration `mapstructure:"webhook_window"`
	TokenRequests    int           `mapstructure:"token_requests"`
	TokenWindow      time.Duration `mapstructure:"token_window"`
	AdminRequests    int           `mapstructure:"admin_requests"`
	AdminWindow      time.Duration `mapstructure:"admin_window"`
}

type WebhooksConfig struct {
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	RetryBaseDelay       time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay        time.Duration `mapstructure:"retry_max_delay"`
	Workers              int           `mapstructure:"workers"`
	QueueSize            int           `mapstructure:"queue_size"`
	Fanout               int           `mapstructure:"fanout"`
	DisableAfterFailures int           `mapstructure:"disable_after_failures"` // 0 = never
	ResolveDNS           bool          `mapstructure:"resolve_dns"`
	RecentDeliveries     int           `mapstructure:"recent_deliveries"`
	UserAgent            string        `mapstructure:"user_agent"`
	MaxHeaders           int           `mapstructure:"max_headers"`
}

type EventsConfig struct {
	StreamEnabled bool          `mapstructure:"stream_enabled"`
	Stream        string        `mapstructure:"stream"`
	Group         string        `mapstructure:"group"`
	Consumer      string        `mapstructure:"consumer"`
	BatchSize     int64         `mapstructure:"batch_size"`
	Block         time.Duration `mapstructure:"block"`
	DedupeTTL     time.Duration `mapstructure:"dedupe_ttl"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PWH_ (Partner WebHooks).
// Nested keys use underscore: PWH_DATABASE_HOST, PWH_WEBHOOKS_TIMEOUT, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.environment", EnvironmentDevelopment)
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "partner_webhooks")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "partner-webhooks")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("auth.admin_token", "")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.webhook_mutations", 10)
	v.SetDefault("rate_limit.webhook_window", "1h")
	v.SetDefault("rate_limit.token_requests", 10)
	v.SetDefault("rate_limit.token_window", "1m")
	v.SetDefault("rate_limit.admin_requests", 120)
	v.SetDefault("rate_limit.admin_window", "1m")
	v.SetDefault("webhooks.timeout", "10s")
	v.SetDefault("webhooks.max_attempts", 4)
	v.SetDefault("webhooks.retry_base_delay", "2s")
	v.SetDefault("webhooks.retry_max_delay", "1m")
	v.SetDefault("webhooks.workers", 8)
	v.SetDefault("webhooks.queue_size", 1024)
	v.SetDefault("webhooks.fanout", 4)
	v.SetDefault("webhooks.disable_after_failures", 0)
	v.SetDefault("webhooks.resolve_dns", true)
	v.SetDefault("webhooks.recent_deliveries", 20)
	v.SetDefault("webhooks.user_agent", "partner-webhooks/1.0")
	v.SetDefault("webhooks.max_headers", 20)
	v.SetDefault("events.stream_enabled", false)
	v.SetDefault("events.stream", "partner-events")
	v.SetDefault("events.group", "webhook-dispatcher")
	v.SetDefault("events.consumer", "dispatcher-1")
	v.SetDefault("events.batch_size", 50)
	v.SetDefault("events.block", "5s")
	v.SetDefault("events.dedupe_ttl", "24h")
	v.SetDefault("metrics.enabled", true)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: PWH_DATABASE_HOST -> database.host
	v.SetEnvPrefix("PWH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings the process cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if key, err := hex.DecodeString(c.AES.Key); err != nil || len(key) != 32 {
		errs = append(errs, errors.New("aes.key must be 64 hex characters"))
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Webhooks.Timeout < time.Second || c.Webhooks.Timeout > 30*time.Second {
		errs = append(errs, errors.New("webhooks.timeout must be between 1s and 30s"))
	}
	if c.Webhooks.MaxAttempts < 1 {
		errs = append(errs, errors.New("webhooks.max_attempts must be at least 1"))
	}
	if c.Webhooks.Workers < 1 || c.Webhooks.QueueSize < 1 || c.Webhooks.Fanout < 1 {
		errs = append(errs, errors.New("webhooks.workers, webhooks.queue_size and webhooks.fanout must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.WebhookMutations < 1 || c.RateLimit.WebhookWindow <= 0) {
		errs = append(errs, errors.New("rate_limit.webhook_mutations and rate_limit.webhook_window must be positive"))
	}
	if c.Events.StreamEnabled && !c.Redis.Enabled {
		errs = append(errs, errors.New("events.stream_enabled requires redis.enabled"))
	}

	return errors.Join(errs...)
}
