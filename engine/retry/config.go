package retry

import (
	"errors"
	"fmt"
	"time"

	"dario.cat/mergo"
)

// ErrInvalidConfig is wrapped by every config validation failure.
var ErrInvalidConfig = errors.New("invalid retry config")

// Predicate decides whether a failed attempt should be retried. A nil
// predicate retries every failure.
type Predicate func(err error) bool

// OnRetryFunc is invoked with the failed attempt number after that attempt
// fails and before the backoff sleep that precedes the next one. It never
// fires for the final attempt.
type OnRetryFunc func(attempt int, err error)

// Config controls how an operation is retried.
type Config struct {
	// MaxAttempts is the total number of invocations allowed, counting the
	// first one. Must be at least 1.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
	// BaseDelay is the sleep before the second attempt; each further sleep
	// doubles the previous one.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`
	// MaxDelay caps each individual sleep. Zero means the default cap.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`
	// Jitter adds a random offset in [-Jitter, Jitter] to each sleep.
	Jitter time.Duration `json:"jitter" yaml:"jitter"`
	// Predicate decides retryability per failure.
	Predicate Predicate `json:"-" yaml:"-"`
	// OnRetry observes failed attempts that will be retried.
	OnRetry OnRetryFunc `json:"-" yaml:"-"`
}

// DefaultConfig returns the retry policy used when a task does not carry its
// own.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
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
		return nil, fmt.Errorf("failed to merge retry config: %w", err)
	}
	return &merged, nil
}

// Validate reports whether the config describes a usable retry policy.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("%w: base delay must be positive, got %s", ErrInvalidConfig, c.BaseDelay)
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("%w: max delay cannot be negative, got %s", ErrInvalidConfig, c.MaxDelay)
	}
	if c.Jitter < 0 {
		return fmt.Errorf("%w: jitter cannot be negative, got %s", ErrInvalidConfig, c.Jitter)
	}
	return nil
}
