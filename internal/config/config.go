// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. ASKMAVEN_REMOTE_BASE_URL.
const EnvPrefix = "ASKMAVEN"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Chat      ChatConfig      `mapstructure:"chat"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Events    EventsConfig    `mapstructure:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RemoteConfig points at the remote worker and tunes the retry loop.
type RemoteConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// CallBudget is the longest a single retried remote call can take: every
// attempt timing out plus the delays between them.
func (r RemoteConfig) CallBudget() time.Duration {
	if r.MaxAttempts <= 0 {
		return 0
	}
	return r.Timeout*time.Duration(r.MaxAttempts) + r.RetryDelay*time.Duration(r.MaxAttempts-1)
}

// JobsConfig governs scrape job submission.
type JobsConfig struct {
	// SubmitPolicy is "retry_with_key" or "no_retry".
	SubmitPolicy  string  `mapstructure:"submit_policy"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// ChatConfig tunes question answering.
type ChatConfig struct {
	ContextLimit int `mapstructure:"context_limit"`
	HistoryLimit int `mapstructure:"history_limit"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig enables the stats cache when URL is set.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	StatsKey string `mapstructure:"stats_key"`
}

// StatsConfig tunes the stats passthrough.
type StatsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// PollerConfig drives background reconciliation of active jobs.
type PollerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Spec             string        `mapstructure:"spec"`
	Batch            int           `mapstructure:"batch"`
	Workers          int           `mapstructure:"workers"`
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	ReconcileTimeout time.Duration `mapstructure:"reconcile_timeout"`
}

// EventsConfig controls the job lifecycle event hub and its sinks.
type EventsConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BufferSize int           `mapstructure:"buffer_size"`
	BatchSize  int           `mapstructure:"batch_size"`
	BatchWait  time.Duration `mapstructure:"batch_wait"`
	Log        bool          `mapstructure:"log"`
	Audit      bool          `mapstructure:"audit"`
	// PubSubTopic, when set, publishes every event to Google Cloud Pub/Sub.
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// TelemetryConfig controls OpenTelemetry tracing. Spans are exported to
// Google Cloud Trace only when ProjectID is set.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional .env file, an optional config file
// and the environment, in increasing order of precedence.
func Load(path string) (Config, error) {
	return LoadWithEnvFile(path, ".env")
}

// LoadWithEnvFile is Load with an explicit dotenv path. A missing dotenv file
// is not an error.
func LoadWithEnvFile(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("remote.base_url", "http://localhost:8000")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.max_attempts", 3)
	v.SetDefault("remote.retry_delay", time.Second)
	v.SetDefault("remote.health_timeout", 5*time.Second)
	v.SetDefault("remote.user_agent", "askmaven-dashboard/1.0")
	v.SetDefault("jobs.submit_policy", "retry_with_key")
	v.SetDefault("jobs.rate_per_second", 1.0)
	v.SetDefault("jobs.burst", 3)
	v.SetDefault("chat.context_limit", 5)
	v.SetDefault("chat.history_limit", 10)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.stats_key", "askmaven:stats")
	v.SetDefault("stats.cache_ttl", 30*time.Second)
	v.SetDefault("poller.enabled", true)
	v.SetDefault("poller.spec", "@every 30s")
	v.SetDefault("poller.batch", 100)
	v.SetDefault("poller.workers", 2)
	v.SetDefault("poller.queue_capacity", 256)
	v.SetDefault("poller.reconcile_timeout", 2*time.Minute)
	v.SetDefault("events.enabled", true)
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.batch_size", 100)
	v.SetDefault("events.batch_wait", 500*time.Millisecond)
	v.SetDefault("events.log", true)
	v.SetDefault("events.audit", true)
	v.SetDefault("events.pubsub_project", "")
	v.SetDefault("events.pubsub_topic", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "askmaven")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be > 0")
	}
	if c.Remote.MaxAttempts <= 0 {
		return fmt.Errorf("remote.max_attempts must be > 0")
	}
	if c.Remote.RetryDelay < 0 {
		return fmt.Errorf("remote.retry_delay must be >= 0")
	}
	if budget := c.Remote.CallBudget(); c.Server.RequestTimeout > 0 && c.Server.RequestTimeout <= budget {
		return fmt.Errorf("server.request_timeout (%s) must exceed the remote call budget (%s)",
			c.Server.RequestTimeout, budget)
	}
	switch c.Jobs.SubmitPolicy {
	case "", "retry_with_key", "no_retry":
	default:
		return fmt.Errorf("jobs.submit_policy must be retry_with_key or no_retry")
	}
	if c.Jobs.RatePerSecond > 0 && c.Jobs.Burst <= 0 {
		return fmt.Errorf("jobs.burst must be > 0 when rate limiting is enabled")
	}
	if c.Chat.ContextLimit <= 0 {
		return fmt.Errorf("chat.context_limit must be > 0")
	}
	if c.DB.MinConns > c.DB.MaxConns && c.DB.MaxConns > 0 {
		return fmt.Errorf("db.min_conns must not exceed db.max_conns")
	}
	if c.Poller.Enabled {
		if c.Poller.Workers <= 0 {
			return fmt.Errorf("poller.workers must be > 0 when the poller is enabled")
		}
		if c.Poller.QueueCapacity <= 0 {
			return fmt.Errorf("poller.queue_capacity must be > 0 when the poller is enabled")
		}
	}
	if c.Events.Enabled && (c.Events.BufferSize < 0 || c.Events.BatchSize < 0 || c.Events.BatchWait < 0) {
		return fmt.Errorf("events buffer_size, batch_size and batch_wait must not be negative")
	}
	if c.Events.PubSubTopic != "" && c.Events.PubSubProject == "" {
		return fmt.Errorf("events.pubsub_project is required when events.pubsub_topic is set")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry.service_name is required when telemetry is enabled")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
