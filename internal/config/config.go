// Package config provides configuration loading for mender.
//
// Configuration is loaded from a YAML file overridden by MENDER_ prefixed
// environment variables, then filled with defaults and validated.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete mender configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Engine        EngineConfig        `koanf:"engine"`
	LogStore      LogStoreConfig      `koanf:"logstore"`
	PatternStore  PatternStoreConfig  `koanf:"patternstore"`
	Events        EventsConfig        `koanf:"events"`
	Actions       ActionsConfig       `koanf:"actions"`
	Scrub         ScrubConfig         `koanf:"scrub"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// EngineConfig holds the matching and remediation policy.
type EngineConfig struct {
	// MinConfidence is the success rate a pattern needs once MinSamples
	// attempts exist (default: 0.6).
	MinConfidence float64 `koanf:"min_confidence"`

	// MinSamples is the attempt count below which the success rate is
	// not trusted (default: 3).
	MinSamples int `koanf:"min_samples"`

	// Cooldown is the minimum time between two applications of the same
	// pattern (default: 60s).
	Cooldown Duration `koanf:"cooldown"`

	// StoreTimeout bounds every log and pattern store call (default: 2s).
	StoreTimeout Duration `koanf:"store_timeout"`

	// ActionTimeout bounds a single remediation action (default: 10s).
	ActionTimeout Duration `koanf:"action_timeout"`
}

// LogStoreConfig selects and configures the durable log store.
type LogStoreConfig struct {
	Backend    string           `koanf:"backend"` // memory | clickhouse
	ClickHouse ClickHouseConfig `koanf:"clickhouse"`
}

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Address  string `koanf:"address"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password Secret `koanf:"password"`
	Table    string `koanf:"table"`
	Protocol string `koanf:"protocol"` // native | http
}

// PatternStoreConfig selects and configures the pattern store.
type PatternStoreConfig struct {
	Backend string      `koanf:"backend"` // memory | redis
	Redis   RedisConfig `koanf:"redis"`
	Cache   CacheConfig `koanf:"cache"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `koanf:"address"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// CacheConfig controls the read-through pattern cache.
type CacheConfig struct {
	Enabled bool     `koanf:"enabled"`
	Size    int      `koanf:"size"`
	TTL     Duration `koanf:"ttl"`
}

// EventsConfig controls NATS publication of discoveries and attempts.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ActionsConfig points at the remediation action catalog.
type ActionsConfig struct {
	CatalogPath string `koanf:"catalog_path"`
}

// ScrubConfig controls secret scrubbing of logged errors.
type ScrubConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// ObservabilityConfig holds logging and OpenTelemetry settings.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Scrub: ScrubConfig{Enabled: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Engine.MinConfidence < 0 || c.Engine.MinConfidence > 1 {
		return fmt.Errorf("engine.min_confidence must be between 0 and 1, got %v", c.Engine.MinConfidence)
	}
	if c.Engine.MinSamples < 1 {
		return fmt.Errorf("engine.min_samples must be >= 1, got %d", c.Engine.MinSamples)
	}
	if c.Engine.StoreTimeout.Duration() <= 0 || c.Engine.ActionTimeout.Duration() <= 0 {
		return errors.New("engine timeouts must be positive")
	}

	switch c.LogStore.Backend {
	case "memory":
	case "clickhouse":
		if c.LogStore.ClickHouse.Address == "" {
			return errors.New("logstore.clickhouse.address is required for the clickhouse backend")
		}
	default:
		return fmt.Errorf("unknown logstore backend %q", c.LogStore.Backend)
	}

	switch c.PatternStore.Backend {
	case "memory":
	case "redis":
		if c.PatternStore.Redis.Address == "" {
			return errors.New("patternstore.redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown patternstore backend %q", c.PatternStore.Backend)
	}

	if c.Events.Enabled && c.Events.NATSURL == "" {
		return errors.New("events.nats_url is required when events are enabled")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9190
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Engine.MinConfidence == 0 {
		cfg.Engine.MinConfidence = 0.6
	}
	if cfg.Engine.MinSamples == 0 {
		cfg.Engine.MinSamples = 3
	}
	if cfg.Engine.Cooldown == 0 {
		cfg.Engine.Cooldown = Duration(60 * time.Second)
	}
	if cfg.Engine.StoreTimeout == 0 {
		cfg.Engine.StoreTimeout = Duration(2 * time.Second)
	}
	if cfg.Engine.ActionTimeout == 0 {
		cfg.Engine.ActionTimeout = Duration(10 * time.Second)
	}

	if cfg.LogStore.Backend == "" {
		cfg.LogStore.Backend = "memory"
	}
	if cfg.LogStore.ClickHouse.Database == "" {
		cfg.LogStore.ClickHouse.Database = "default"
	}
	if cfg.LogStore.ClickHouse.Table == "" {
		cfg.LogStore.ClickHouse.Table = "mender_log_entries"
	}
	if cfg.LogStore.ClickHouse.Protocol == "" {
		cfg.LogStore.ClickHouse.Protocol = "native"
	}

	if cfg.PatternStore.Backend == "" {
		cfg.PatternStore.Backend = "memory"
	}
	if cfg.PatternStore.Redis.Prefix == "" {
		cfg.PatternStore.Redis.Prefix = "mender"
	}
	if cfg.PatternStore.Cache.Size == 0 {
		cfg.PatternStore.Cache.Size = 1024
	}
	if cfg.PatternStore.Cache.TTL == 0 {
		cfg.PatternStore.Cache.TTL = Duration(5 * time.Second)
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "mender"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "mender"
	}
	if cfg.Observability.Endpoint == "" {
		cfg.Observability.Endpoint = "localhost:4317"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
}
