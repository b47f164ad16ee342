// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/veilhq/stealthcrawler/internal/netpath"
	"github.com/veilhq/stealthcrawler/internal/profile"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Auth       AuthConfig        `mapstructure:"auth"`
	Scheduler  SchedulerConfig   `mapstructure:"scheduler"`
	Stealth    StealthConfig     `mapstructure:"stealth"`
	Session    SessionConfig     `mapstructure:"session"`
	Challenge  ChallengeConfig   `mapstructure:"challenge"`
	Browser    BrowserConfig     `mapstructure:"browser"`
	Paths      []netpath.Spec    `mapstructure:"paths"`
	PathHealth PathHealthConfig  `mapstructure:"path_health"`
	Profiles   []profile.Profile `mapstructure:"profiles"`
	Storage    StorageConfig     `mapstructure:"storage"`
	DB         DBConfig          `mapstructure:"db"`
	PubSub     PubSubConfig      `mapstructure:"pubsub"`
	Compliance ComplianceConfig  `mapstructure:"compliance"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig governs the worker pool and retry policy.
type SchedulerConfig struct {
	Workers          int `mapstructure:"workers"`
	QueueDepth       int `mapstructure:"queue_depth"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffBaseMs    int `mapstructure:"backoff_base_ms"`
	BackoffCapMs     int `mapstructure:"backoff_cap_ms"`
	AttemptTimeoutMs int `mapstructure:"attempt_timeout_ms"`
}

// StealthConfig sets level defaults and identity selection seeds.
type StealthConfig struct {
	DefaultLevel int    `mapstructure:"default_level"`
	RegionHint   string `mapstructure:"region_hint"`
	SamplingSeed int64  `mapstructure:"sampling_seed"`
}

// SessionConfig controls per-domain session retention.
type SessionConfig struct {
	TTLMinutes int `mapstructure:"ttl_minutes"`
}

// ChallengeConfig wires the external solving services. Empty endpoints
// simply remove that strategy from the chain.
type ChallengeConfig struct {
	AutomatedEndpoint   string  `mapstructure:"automated_endpoint"`
	AutomatedAPIKey     string  `mapstructure:"automated_api_key"`
	HumanAssistEndpoint string  `mapstructure:"human_assist_endpoint"`
	HumanAssistAPIKey   string  `mapstructure:"human_assist_api_key"`
	HybridThreshold     float64 `mapstructure:"hybrid_threshold"`
	MaxAttempts         int     `mapstructure:"max_attempts"`
}

// BrowserConfig configures the headless navigation layer.
type BrowserConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// PathHealthConfig controls the background probe loop.
type PathHealthConfig struct {
	ProbeURL        string `mapstructure:"probe_url"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

// StorageConfig selects the artifact backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the relational job store. An empty DSN selects the
// in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for completion event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ComplianceConfig drives the static policy gate.
type ComplianceConfig struct {
	DeniedHosts map[string]string `mapstructure:"denied_hosts"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STEALTH")
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
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.queue_depth", 256)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.backoff_base_ms", 2000)
	v.SetDefault("scheduler.backoff_cap_ms", 120000)
	v.SetDefault("scheduler.attempt_timeout_ms", 35000)
	v.SetDefault("stealth.default_level", 2)
	v.SetDefault("session.ttl_minutes", 30)
	v.SetDefault("challenge.hybrid_threshold", 0.8)
	v.SetDefault("challenge.max_attempts", 3)
	v.SetDefault("browser.max_parallel", 2)
	v.SetDefault("browser.nav_timeout_seconds", 35)
	v.SetDefault("path_health.interval_seconds", 60)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler.max_attempts must be > 0")
	}
	if c.Stealth.DefaultLevel < 1 || c.Stealth.DefaultLevel > 4 {
		return fmt.Errorf("stealth.default_level must be between 1 and 4")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Storage.Backend != "memory" && c.Storage.Backend != "gcs" {
		return fmt.Errorf("storage.backend must be memory or gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	return nil
}

// AttemptTimeout converts the configured attempt budget to a duration.
func (c Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Scheduler.AttemptTimeoutMs) * time.Millisecond
}

// BackoffBase converts the configured retry base delay to a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Scheduler.BackoffBaseMs) * time.Millisecond
}

// BackoffCap converts the configured retry delay ceiling to a duration.
func (c Config) BackoffCap() time.Duration {
	return time.Duration(c.Scheduler.BackoffCapMs) * time.Millisecond
}

// SessionTTL converts the configured session retention to a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

// ProbeInterval converts the configured health probe cadence to a duration.
func (c Config) ProbeInterval() time.Duration {
	return time.Duration(c.PathHealth.IntervalSeconds) * time.Second
}

// NavTimeout converts the configured browser navigation budget to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}
