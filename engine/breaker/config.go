package breaker

import (
	"errors"
	"fmt"
	"time"

	"dario.cat/mergo"
)

// ErrInvalidConfig is wrapped by every config validation failure.
var ErrInvalidConfig = errors.New("invalid breaker config")

// Config controls when a breaker trips and when it probes for recovery.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker. Must be at least 1.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// RecoveryTimeout is how long the breaker stays open before admitting a
	// single probe call.
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	// MonitoringPeriod is reserved for a rolling failure window. The breaker
	// currently trips on consecutive failures alone and ignores it.
	MonitoringPeriod time.Duration `json:"monitoring_period" yaml:"monitoring_period"`
}

// DefaultConfig returns the breaker policy used when none is supplied.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		MonitoringPeriod: time.Minute,
	}
}

// WithDefaults returns a copy of c with unset fields filled from defaults,
// falling back to DefaultConfig when defaults is nil.
func (c *Config) WithDefaults(defaults *Config) (*Config, error) {
	base := defaults
	if base == nil {
		base = DefaultConfig()
	}
	merged := *c
	if err := mergo.Merge(&merged, *base); err != nil {
		return nil, fmt.Errorf("failed to merge breaker config: %w", err)
	}
	return &merged, nil
}

// Validate reports whether the config describes a usable breaker policy.
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure threshold must be at least 1, got %d", ErrInvalidConfig, c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("%w: recovery timeout must be positive, got %s", ErrInvalidConfig, c.RecoveryTimeout)
	}
	if c.MonitoringPeriod < 0 {
		return fmt.Errorf("%w: monitoring period cannot be negative, got %s", ErrInvalidConfig, c.MonitoringPeriod)
	}
	return nil
}
