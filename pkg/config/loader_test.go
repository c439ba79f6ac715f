package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load(t *testing.T) {
	t.Run("Should load default configuration when no sources provided", func(t *testing.T) {
		loader := NewService()

		cfg, err := loader.Load(context.Background())

		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "development", cfg.Runtime.Environment)
		assert.Equal(t, "info", cfg.Runtime.LogLevel)
		assert.Equal(t, 3, cfg.Retry.MaxAttempts)
		assert.Equal(t, 100*time.Millisecond, cfg.Retry.BaseDelay)
		assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
		assert.Equal(t, 4, cfg.Batch.Concurrency)
		assert.False(t, cfg.Metrics.Enabled)
	})

	t.Run("Should apply sources in precedence order", func(t *testing.T) {
		loader := NewService()
		yamlSource := &mockSource{
			data: map[string]any{
				"batch": map[string]any{
					"concurrency":    8,
					"abort_on_error": true,
				},
			},
			sourceType: SourceYAML,
		}
		cliSource := &mockSource{
			data: map[string]any{
				"batch": map[string]any{
					"concurrency": 2,
				},
			},
			sourceType: SourceCLI,
		}

		cfg, err := loader.Load(context.Background(), yamlSource, cliSource)

		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, 2, cfg.Batch.Concurrency)
		assert.True(t, cfg.Batch.AbortOnError)
	})

	t.Run("Should let environment variables override any source", func(t *testing.T) {
		t.Setenv("RESILY_RETRY_MAX_ATTEMPTS", "7")
		loader := NewService()
		source := &mockSource{
			data: map[string]any{
				"retry": map[string]any{
					"max_attempts": 5,
				},
			},
			sourceType: SourceYAML,
		}

		cfg, err := loader.Load(context.Background(), source)

		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	})

	t.Run("Should parse human readable durations", func(t *testing.T) {
		loader := NewService()
		source := &mockSource{
			data: map[string]any{
				"retry": map[string]any{
					"base_delay": "1 second",
					"max_delay":  "2 minutes",
				},
				"breaker": map[string]any{
					"recovery_timeout": "45s",
				},
			},
			sourceType: SourceYAML,
		}

		cfg, err := loader.Load(context.Background(), source)

		require.NoError(t, err)
		assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
		assert.Equal(t, 2*time.Minute, cfg.Retry.MaxDelay)
		assert.Equal(t, 45*time.Second, cfg.Breaker.RecoveryTimeout)
	})

	t.Run("Should validate configuration after loading", func(t *testing.T) {
		loader := NewService()
		source := &mockSource{
			data: map[string]any{
				"batch": map[string]any{
					"concurrency": 0,
				},
			},
			sourceType: SourceYAML,
		}

		cfg, err := loader.Load(context.Background(), source)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
		assert.Nil(t, cfg)
	})

	t.Run("Should reject cross-field violations", func(t *testing.T) {
		loader := NewService()
		source := &mockSource{
			data: map[string]any{
				"retry": map[string]any{
					"base_delay": "50ms",
					"max_delay":  "10ms",
				},
			},
			sourceType: SourceYAML,
		}

		cfg, err := loader.Load(context.Background(), source)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "max delay must be at least the base delay")
		assert.Nil(t, cfg)
	})

	t.Run("Should handle nil sources gracefully", func(t *testing.T) {
		loader := NewService()
		validSource := &mockSource{
			data: map[string]any{
				"runtime": map[string]any{
					"log_level": "debug",
				},
			},
			sourceType: SourceCLI,
		}

		cfg, err := loader.Load(context.Background(), nil, validSource, nil)

		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "debug", cfg.Runtime.LogLevel)
	})

	t.Run("Should handle source loading errors", func(t *testing.T) {
		loader := NewService()
		source := &mockSource{
			loadErr:    assert.AnError,
			sourceType: SourceCLI,
		}

		cfg, err := loader.Load(context.Background(), source)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load from source")
		assert.Nil(t, cfg)
	})
}

func TestLoader_Validate(t *testing.T) {
	t.Run("Should accept valid configuration", func(t *testing.T) {
		loader := NewService()

		assert.NoError(t, loader.Validate(Default()))
	})

	t.Run("Should reject nil configuration", func(t *testing.T) {
		loader := NewService()

		err := loader.Validate(nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration cannot be nil")
	})

	t.Run("Should reject invalid struct tag validation", func(t *testing.T) {
		loader := NewService()
		cfg := Default()
		cfg.Breaker.FailureThreshold = 0

		err := loader.Validate(cfg)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
	})

	t.Run("Should reject invalid custom validation", func(t *testing.T) {
		loader := NewService()
		cfg := Default()
		cfg.Breaker.RecoveryTimeout = 0

		err := loader.Validate(cfg)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "recovery timeout must be positive")
	})

	t.Run("Should require an address when metrics are enabled", func(t *testing.T) {
		loader := NewService()
		cfg := Default()
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = ""

		err := loader.Validate(cfg)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "metrics address is required")
	})
}

func TestLoader_GetSource(t *testing.T) {
	t.Run("Should track which source provided each key", func(t *testing.T) {
		t.Setenv("RESILY_BREAKER_FAILURE_THRESHOLD", "9")
		loader := NewService()
		source := &mockSource{
			data: map[string]any{
				"batch": map[string]any{
					"concurrency": 16,
				},
			},
			sourceType: SourceYAML,
		}

		_, err := loader.Load(context.Background(), source)
		require.NoError(t, err)

		assert.Equal(t, SourceYAML, loader.GetSource("batch.concurrency"))
		assert.Equal(t, SourceEnv, loader.GetSource("breaker.failure_threshold"))
		assert.Equal(t, SourceDefault, loader.GetSource("retry.max_attempts"))
		assert.Equal(t, SourceDefault, loader.GetSource("nonexistent"))
	})
}

// mockSource is a test implementation of the Source interface.
type mockSource struct {
	data       map[string]any
	sourceType SourceType
	loadErr    error
}

func (m *mockSource) Load() (map[string]any, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.data, nil
}

func (m *mockSource) Watch(_ context.Context, _ func()) error {
	return nil
}

func (m *mockSource) Type() SourceType {
	return m.sourceType
}

func (m *mockSource) Close() error {
	return nil
}

func TestTransformEnvKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Should handle standard environment variable",
			input:    "RETRY_MAX_ATTEMPTS",
			expected: "retry.max_attempts",
		},
		{
			name:     "Should handle single part",
			input:    "PORT",
			expected: "port",
		},
		{
			name:     "Should handle empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "Should handle double underscore",
			input:    "FOO__BAR",
			expected: "foo.bar",
		},
		{
			name:     "Should handle leading underscore",
			input:    "_FOO_BAR",
			expected: "foo.bar",
		},
		{
			name:     "Should handle trailing underscore",
			input:    "FOO_BAR_",
			expected: "foo.bar",
		},
		{
			name:     "Should handle only underscores",
			input:    "___",
			expected: "",
		},
		{
			name:     "Should preserve underscores in nested parts",
			input:    "BREAKER_FAILURE_THRESHOLD",
			expected: "breaker.failure_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, transformEnvKey(tt.input))
		})
	}
}

func TestGenerateEnvMappings(t *testing.T) {
	t.Run("Should map env tags to config paths", func(t *testing.T) {
		mappings := GenerateEnvMappings()
		byEnv := make(map[string]string, len(mappings))
		for _, m := range mappings {
			byEnv[m.EnvVar] = m.ConfigPath
		}

		assert.Equal(t, "runtime.log_level", byEnv["RESILY_RUNTIME_LOG_LEVEL"])
		assert.Equal(t, "retry.max_attempts", byEnv["RESILY_RETRY_MAX_ATTEMPTS"])
		assert.Equal(t, "breaker.recovery_timeout", byEnv["RESILY_BREAKER_RECOVERY_TIMEOUT"])
		assert.Equal(t, "batch.abort_on_error", byEnv["RESILY_BATCH_ABORT_ON_ERROR"])
		assert.Equal(t, "metrics.addr", byEnv["RESILY_METRICS_ADDR"])
	})
}
