package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the top-level configuration for the telemetry service.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Log       LogConfig        `koanf:"log"`
	Collector CollectorConfig  `koanf:"collector"`
	Storage   StorageConfig    `koanf:"storage"`
	Schema    SchemaConfig     `koanf:"schema"`
	Pipeline  PipelineConfig   `koanf:"pipeline"`
	Providers []ProviderConfig `koanf:"providers"`
	Metrics   MetricsConfig    `koanf:"metrics"`
	Beacon    BeaconConfig     `koanf:"beacon"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // "debug" or "release"
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // text | json
}

// CollectorConfig configures the reference collector endpoint and its
// Postgres event store.
type CollectorConfig struct {
	Enabled      bool   `koanf:"enabled"`
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// StorageConfig selects the durable key-value store.
type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite | memory
	Path   string `koanf:"path"`
}

// SchemaConfig points at optional YAML schemas loaded on top of the built-in ones.
type SchemaConfig struct {
	Path string `koanf:"path"`
}

type PipelineConfig struct {
	BatchSize             int      `koanf:"batch_size"`
	FlushInterval         string   `koanf:"flush_interval"` // parsed by Validate
	AttributionWindowDays int      `koanf:"attribution_window_days"`
	MaxTouchpoints        int      `koanf:"max_touchpoints"`
	CollectorEndpoints    []string `koanf:"collector_endpoints"`
	RequestTimeout        string   `koanf:"request_timeout"`
	Compression           string   `koanf:"compression"` // none | zstd
	SiteHost              string   `koanf:"site_host"`
}

// ProviderConfig describes one fan-out provider.
type ProviderConfig struct {
	Name      string   `koanf:"name"`
	Type      string   `koanf:"type"` // log | datalayer | webhook
	Endpoint  string   `koanf:"endpoint"`
	Events    []string `koanf:"events"` // empty means all events
	QueueSize int      `koanf:"queue_size"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

type BeaconConfig struct {
	Enabled bool `koanf:"enabled"`
}

// FlushIntervalDuration returns the parsed flush interval. Call after Validate.
func (c PipelineConfig) FlushIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.FlushInterval)
	return d
}

// RequestTimeoutDuration returns the parsed collector request timeout. Call after Validate.
func (c PipelineConfig) RequestTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.RequestTimeout)
	return d
}

// Validate checks semantic constraints that koanf cannot express.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format %q (must be text or json)", c.Log.Format)
	}

	if c.Collector.Enabled {
		if strings.TrimSpace(c.Collector.DSN) == "" {
			return fmt.Errorf("collector.dsn is required when the collector is enabled")
		}
		if c.Collector.MaxOpenConns <= 0 {
			return fmt.Errorf("collector.max_open_conns must be > 0")
		}
		if c.Collector.MaxIdleConns <= 0 {
			return fmt.Errorf("collector.max_idle_conns must be > 0")
		}
	}

	switch c.Storage.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}

	if err := c.Pipeline.validate(); err != nil {
		return err
	}

	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		names[p.Name] = true

		switch p.Type {
		case "log", "datalayer":
		case "webhook":
			if err := validateURL(p.Endpoint); err != nil {
				return fmt.Errorf("providers[%d].endpoint: %w", i, err)
			}
		default:
			return fmt.Errorf("unsupported providers[%d].type %q", i, p.Type)
		}
	}

	return nil
}

func (c PipelineConfig) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	interval, err := time.ParseDuration(c.FlushInterval)
	if err != nil {
		return fmt.Errorf("invalid pipeline.flush_interval %q: %w", c.FlushInterval, err)
	}
	if interval <= 0 {
		return fmt.Errorf("pipeline.flush_interval must be > 0")
	}
	timeout, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return fmt.Errorf("invalid pipeline.request_timeout %q: %w", c.RequestTimeout, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("pipeline.request_timeout must be > 0")
	}
	if c.AttributionWindowDays <= 0 {
		return fmt.Errorf("pipeline.attribution_window_days must be > 0")
	}
	if c.MaxTouchpoints <= 0 {
		return fmt.Errorf("pipeline.max_touchpoints must be > 0")
	}
	if c.Compression != "none" && c.Compression != "zstd" {
		return fmt.Errorf("invalid pipeline.compression %q (must be none or zstd)", c.Compression)
	}
	for i, endpoint := range c.CollectorEndpoints {
		if err := validateURL(endpoint); err != nil {
			return fmt.Errorf("pipeline.collector_endpoints[%d]: %w", i, err)
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

// Load parses config from defaults, the optional YAML file and the
// environment, then validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"server.port":                      8080,
		"server.host":                      "0.0.0.0",
		"server.max_body_size_mb":          1,
		"server.mode":                      "release",
		"log.level":                        "info",
		"log.format":                       "text",
		"collector.enabled":                false,
		"collector.dsn":                    "",
		"collector.max_open_conns":         25,
		"collector.max_idle_conns":         25,
		"collector.auto_migrate":           true,
		"storage.driver":                   "sqlite",
		"storage.path":                     "telemetry.db",
		"schema.path":                      "",
		"pipeline.batch_size":              10,
		"pipeline.flush_interval":          "5s",
		"pipeline.attribution_window_days": 30,
		"pipeline.max_touchpoints":         10,
		"pipeline.collector_endpoints":     []string{},
		"pipeline.request_timeout":         "10s",
		"pipeline.compression":             "none",
		"pipeline.site_host":               "",
		"metrics.enabled":                  true,
		"beacon.enabled":                   true,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// 2. Load from file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// 3. Load from Environment Variables
	// TELEMETRY_PIPELINE__BATCH_SIZE=20 overrides pipeline.batch_size
	if err := k.Load(env.Provider("TELEMETRY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "TELEMETRY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
