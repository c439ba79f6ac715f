package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// envProvider marks environment variables as a source in precedence
// bookkeeping. The actual loading happens through koanf's native env
// provider inside the loader.
type envProvider struct{}

// NewEnvProvider creates a new environment variable configuration source.
func NewEnvProvider() Source {
	return &envProvider{}
}

func (e *envProvider) Load() (map[string]any, error) {
	return make(map[string]any), nil
}

func (e *envProvider) Watch(_ context.Context, _ func()) error {
	return nil
}

func (e *envProvider) Type() SourceType {
	return SourceEnv
}

func (e *envProvider) Close() error {
	return nil
}

// cliFlagPaths maps command line flag names to configuration paths.
var cliFlagPaths = map[string]string{
	"log-level":      "runtime.log_level",
	"log-json":       "runtime.log_json",
	"log-source":     "runtime.log_source",
	"concurrency":    "batch.concurrency",
	"abort-on-error": "batch.abort_on_error",
	"metrics":        "metrics.enabled",
	"metrics-addr":   "metrics.addr",
	"metrics-path":   "metrics.path",
}

// cliProvider implements the Source interface for CLI flags.
type cliProvider struct {
	flags map[string]any
}

// NewCLIProvider creates a configuration source from explicitly set CLI
// flags. Unknown flag names are ignored.
func NewCLIProvider(flags map[string]any) Source {
	return &cliProvider{flags: flags}
}

func (c *cliProvider) Load() (map[string]any, error) {
	if c.flags == nil {
		return make(map[string]any), nil
	}
	config := make(map[string]any)
	for key, value := range c.flags {
		path, ok := cliFlagPaths[key]
		if !ok {
			continue
		}
		if err := setNested(config, path, value); err != nil {
			return nil, fmt.Errorf("failed to set CLI flag %s: %w", key, err)
		}
	}
	return config, nil
}

func (c *cliProvider) Watch(_ context.Context, _ func()) error {
	return nil
}

func (c *cliProvider) Type() SourceType {
	return SourceCLI
}

func (c *cliProvider) Close() error {
	return nil
}

// setNested sets a value in a nested map structure using dot notation.
func setNested(m map[string]any, path string, value any) error {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	current := m
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if _, exists := current[part]; !exists {
			current[part] = make(map[string]any)
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return fmt.Errorf("configuration conflict: key %q is not a map", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// yamlProvider implements the Source interface for YAML files.
type yamlProvider struct {
	path      string
	watcher   *Watcher
	watcherMu sync.Mutex
	watchOnce sync.Once
	closeOnce sync.Once
}

// NewYAMLProvider creates a new YAML file configuration source. A missing
// file is treated as an empty source so the path can be optional.
func NewYAMLProvider(path string) Source {
	return &yamlProvider{path: path}
}

func (y *yamlProvider) Load() (map[string]any, error) {
	data, err := os.ReadFile(y.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]any), nil
		}
		return nil, fmt.Errorf("failed to read YAML file: %w", err)
	}
	var config map[string]any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML file: %w", err)
	}
	return filterNilValues(config), nil
}

// filterNilValues recursively removes nil values so explicit YAML nulls
// never override existing values.
func filterNilValues(m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		if v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if filtered := filterNilValues(nested); len(filtered) > 0 {
				result[k] = filtered
			}
		} else {
			result[k] = v
		}
	}
	return result
}

// Watch monitors the YAML file for changes.
func (y *yamlProvider) Watch(ctx context.Context, callback func()) error {
	var watchErr error
	y.watchOnce.Do(func() {
		y.watcherMu.Lock()
		defer y.watcherMu.Unlock()

		watcher, err := NewWatcher()
		if err != nil {
			watchErr = fmt.Errorf("failed to create watcher: %w", err)
			return
		}
		if err := watcher.Watch(ctx, y.path); err != nil {
			watcher.Close()
			watchErr = fmt.Errorf("failed to watch YAML file: %w", err)
			return
		}
		y.watcher = watcher
	})
	if watchErr != nil {
		return watchErr
	}
	y.watcherMu.Lock()
	defer y.watcherMu.Unlock()
	if y.watcher != nil {
		y.watcher.OnChange(callback)
	}
	return nil
}

func (y *yamlProvider) Type() SourceType {
	return SourceYAML
}

func (y *yamlProvider) Close() error {
	var closeErr error
	y.closeOnce.Do(func() {
		y.watcherMu.Lock()
		defer y.watcherMu.Unlock()

		if y.watcher != nil {
			if err := y.watcher.Close(); err != nil {
				closeErr = fmt.Errorf("failed to close watcher: %w", err)
				return
			}
			y.watcher = nil
		}
	})
	return closeErr
}

// defaultProvider implements the Source interface for built-in defaults.
type defaultProvider struct{}

// NewDefaultProvider creates a source backed by the built-in defaults.
// The loader always applies defaults first; this source exists so callers
// can express the full precedence chain explicitly.
func NewDefaultProvider() Source {
	return &defaultProvider{}
}

func (d *defaultProvider) Load() (map[string]any, error) {
	cfg := Default()
	return map[string]any{
		"runtime": map[string]any{
			"environment": cfg.Runtime.Environment,
			"log_level":   cfg.Runtime.LogLevel,
			"log_json":    cfg.Runtime.LogJSON,
			"log_source":  cfg.Runtime.LogSource,
		},
		"retry": map[string]any{
			"max_attempts": cfg.Retry.MaxAttempts,
			"base_delay":   cfg.Retry.BaseDelay.String(),
			"max_delay":    cfg.Retry.MaxDelay.String(),
			"jitter":       cfg.Retry.Jitter.String(),
		},
		"breaker": map[string]any{
			"failure_threshold": cfg.Breaker.FailureThreshold,
			"recovery_timeout":  cfg.Breaker.RecoveryTimeout.String(),
			"monitoring_period": cfg.Breaker.MonitoringPeriod.String(),
		},
		"batch": map[string]any{
			"concurrency":    cfg.Batch.Concurrency,
			"abort_on_error": cfg.Batch.AbortOnError,
		},
		"metrics": map[string]any{
			"enabled": cfg.Metrics.Enabled,
			"addr":    cfg.Metrics.Addr,
			"path":    cfg.Metrics.Path,
		},
	}, nil
}

func (d *defaultProvider) Watch(_ context.Context, _ func()) error {
	return nil
}

func (d *defaultProvider) Type() SourceType {
	return SourceDefault
}

func (d *defaultProvider) Close() error {
	return nil
}
