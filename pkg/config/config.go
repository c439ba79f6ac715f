package config

import (
	"context"
	"time"
)

// Config is the complete configuration for a resily process. Sections map
// one-to-one onto the engine packages that consume them.
type Config struct {
	Runtime RuntimeConfig `koanf:"runtime" validate:"required"`
	Retry   RetryConfig   `koanf:"retry"   validate:"required"`
	Breaker BreakerConfig `koanf:"breaker" validate:"required"`
	Batch   BatchConfig   `koanf:"batch"   validate:"required"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// RuntimeConfig contains process-wide runtime behavior.
type RuntimeConfig struct {
	Environment string `koanf:"environment" validate:"oneof=development staging production" env:"RESILY_RUNTIME_ENVIRONMENT"`
	LogLevel    string `koanf:"log_level"   validate:"oneof=debug info warn error disabled" env:"RESILY_RUNTIME_LOG_LEVEL"`
	LogJSON     bool   `koanf:"log_json"                                                    env:"RESILY_RUNTIME_LOG_JSON"`
	LogSource   bool   `koanf:"log_source"                                                  env:"RESILY_RUNTIME_LOG_SOURCE"`
}

// RetryConfig is the process-wide default retry policy. Tasks merge their
// own policy over these values.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts" validate:"min=1" env:"RESILY_RETRY_MAX_ATTEMPTS"`
	BaseDelay   time.Duration `koanf:"base_delay"                    env:"RESILY_RETRY_BASE_DELAY"`
	MaxDelay    time.Duration `koanf:"max_delay"                     env:"RESILY_RETRY_MAX_DELAY"`
	Jitter      time.Duration `koanf:"jitter"                        env:"RESILY_RETRY_JITTER"`
}

// BreakerConfig is the process-wide default circuit breaker policy.
type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold" validate:"min=1" env:"RESILY_BREAKER_FAILURE_THRESHOLD"`
	RecoveryTimeout  time.Duration `koanf:"recovery_timeout"                   env:"RESILY_BREAKER_RECOVERY_TIMEOUT"`
	MonitoringPeriod time.Duration `koanf:"monitoring_period"                  env:"RESILY_BREAKER_MONITORING_PERIOD"`
}

// BatchConfig contains batch runner defaults.
type BatchConfig struct {
	Concurrency  int  `koanf:"concurrency"    validate:"min=1" env:"RESILY_BATCH_CONCURRENCY"`
	AbortOnError bool `koanf:"abort_on_error"                  env:"RESILY_BATCH_ABORT_ON_ERROR"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled" env:"RESILY_METRICS_ENABLED"`
	Addr    string `koanf:"addr"    env:"RESILY_METRICS_ADDR"`
	Path    string `koanf:"path"    env:"RESILY_METRICS_PATH"`
}

// Service defines the configuration management service interface.
type Service interface {
	// Load loads configuration from the specified sources with precedence order.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate checks if the configuration meets all validation requirements.
	Validate(config *Config) error
	// GetSource returns the source type that provided a configuration key.
	GetSource(key string) SourceType
}

// Source defines the interface for configuration sources.
type Source interface {
	// Load reads configuration from the source.
	Load() (map[string]any, error)
	// Watch monitors the source for changes.
	Watch(ctx context.Context, callback func()) error
	// Type returns the source type identifier.
	Type() SourceType
	// Close releases any resources held by the source.
	Close() error
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata records which source provided each configuration key.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Load loads configuration from defaults and environment variables using a
// fresh service. Convenience for callers that need no file or CLI sources.
func Load(ctx context.Context) (*Config, error) {
	return NewService().Load(ctx)
}

// Default returns a Config with default values for development.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Environment: "development",
			LogLevel:    "info",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			MonitoringPeriod: time.Minute,
		},
		Batch: BatchConfig{
			Concurrency: 4,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}
