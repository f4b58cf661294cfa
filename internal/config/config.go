// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	warden "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/circuitbreaker"
	"github.com/eugener/warden/internal/policy"
)

// Config is the top-level Warden configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds operator HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// StorageConfig selects and tunes the cache backend.
type StorageConfig struct {
	Backend   string        `yaml:"backend"`   // "memory" or "sqlite"
	MaxSize   int           `yaml:"max_size"`  // memory backend entry bound
	Retention time.Duration `yaml:"retention"` // memory backend hard cap on blob age, 0 = none
	Timeout   time.Duration `yaml:"timeout"`   // per backend call
	Breaker   BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the circuit breaker in front of the backend.
type BreakerConfig struct {
	Enabled               bool `yaml:"enabled"`
	circuitbreaker.Config `yaml:",inline"`
}

// CacheConfig holds policy cache settings.
type CacheConfig struct {
	Namespace     string        `yaml:"namespace"`
	SchemaVersion string        `yaml:"schema_version"` // empty = binary version
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	Policies      []policy.Rule `yaml:"policies"` // first matching prefix wins
}

// MetricsConfig controls the in-process metrics collector.
type MetricsConfig struct {
	MaxSamples       int           `yaml:"max_samples"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"` // 0 disables persisted snapshots
	SnapshotKeep     int           `yaml:"snapshot_keep"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// PrometheusConfig controls the Prometheus sink and /metrics endpoint.
type PrometheusConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// Policy builds the TTL policy table from the cache section.
func (c CacheConfig) Policy() (*policy.Table, error) {
	return policy.New(c.DefaultTTL, c.Policies...)
}

// NeedsDatabase reports whether any component uses the SQLite database.
func (c *Config) NeedsDatabase() bool {
	return c.Storage.Backend == "sqlite" || c.Metrics.SnapshotInterval > 0
}

// Validate checks settings that would otherwise fail at request time.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: must be memory or sqlite", c.Storage.Backend))
	}
	if c.Storage.Backend == "memory" && c.Storage.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("storage.max_size %d: must be positive", c.Storage.MaxSize))
	}
	if c.Storage.Retention < 0 {
		errs = append(errs, fmt.Errorf("storage.retention %s: must not be negative", c.Storage.Retention))
	}
	if b := c.Storage.Breaker; b.Enabled {
		if b.ErrorThreshold <= 0 || b.ErrorThreshold > 1.5 {
			errs = append(errs, fmt.Errorf("storage.breaker.error_threshold %v: must be in (0, 1.5]", b.ErrorThreshold))
		}
		if b.MinSamples <= 0 {
			errs = append(errs, fmt.Errorf("storage.breaker.min_samples %d: must be positive", b.MinSamples))
		}
		if b.OpenTimeout <= 0 {
			errs = append(errs, fmt.Errorf("storage.breaker.open_timeout %s: must be positive", b.OpenTimeout))
		}
	}
	if c.Metrics.MaxSamples <= 0 {
		errs = append(errs, fmt.Errorf("metrics.max_samples %d: must be positive", c.Metrics.MaxSamples))
	}
	if c.Metrics.SnapshotInterval < 0 {
		errs = append(errs, fmt.Errorf("metrics.snapshot_interval %s: must not be negative", c.Metrics.SnapshotInterval))
	}
	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.tracing.endpoint: required when tracing is enabled"))
	}
	if _, err := c.Cache.Policy(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", warden.ErrInvalidConfig, err)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used when a field is not set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "warden.db",
		},
		Storage: StorageConfig{
			Backend: "memory",
			MaxSize: 10_000,
			Timeout: 2 * time.Second,
			Breaker: BreakerConfig{
				Enabled: true,
				Config:  circuitbreaker.DefaultConfig(),
			},
		},
		Cache: CacheConfig{
			Namespace:  "warden",
			DefaultTTL: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			MaxSamples:   1000,
			SnapshotKeep: 100,
		},
		Telemetry: TelemetryConfig{
			Prometheus: PrometheusConfig{Enabled: true},
		},
	}
}

// Load reads, parses, and validates a YAML config file, expanding
// environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
