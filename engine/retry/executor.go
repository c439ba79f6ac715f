package retry

import (
	"context"
	"fmt"
	"time"

	backoff "github.com/sethvargo/go-retry"

	"github.com/resily/resily/engine/metrics"
	"github.com/resily/resily/engine/operation"
	"github.com/resily/resily/pkg/logger"
)

// Executor runs operations under an exponential backoff retry policy.
type Executor[T any] struct {
	cfg *Config
}

// NewExecutor fills unset fields of cfg from DefaultConfig, validates the
// result and returns an executor. A nil cfg uses the defaults unchanged.
func NewExecutor[T any](cfg *Config) (*Executor[T], error) {
	if cfg == nil {
		cfg = &Config{}
	}
	merged, err := cfg.WithDefaults(nil)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &Executor[T]{cfg: merged}, nil
}

// Config returns the effective policy the executor runs with.
func (e *Executor[T]) Config() Config {
	return *e.cfg
}

// Execute runs op under the retry policy. The returned result always carries
// the number of attempts consumed and the elapsed wall time; failures,
// including panics inside op, surface through the result instead of
// propagating. Context cancellation during a backoff sleep stops the run with
// the context error.
func (e *Executor[T]) Execute(ctx context.Context, op operation.Operation[T]) operation.Result[T] {
	log := logger.FromContext(ctx)
	start := time.Now()
	attempts := 0
	var value T
	err := backoff.Do(ctx, e.newBackoff(), func(ctx context.Context) error {
		attempts++
		attemptStart := time.Now()
		v, opErr := runAttempt(ctx, op)
		metrics.RecordAttemptDuration(ctx, opErr == nil, time.Since(attemptStart))
		if opErr != nil {
			if attempts < e.cfg.MaxAttempts && e.shouldRetry(opErr) {
				log.Debug("operation failed, scheduling retry",
					"attempt", attempts,
					"max_attempts", e.cfg.MaxAttempts,
					"error", opErr,
				)
				if e.cfg.OnRetry != nil {
					e.cfg.OnRetry(attempts, opErr)
				}
				metrics.RecordRetryAttempt(ctx, attempts)
				return backoff.RetryableError(opErr)
			}
			return opErr
		}
		value = v
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		if attempts == e.cfg.MaxAttempts {
			metrics.RecordRetryExhausted(ctx, attempts)
		}
		return operation.NewFailure[T](err, attempts, elapsed)
	}
	return operation.NewSuccess(value, attempts, elapsed)
}

func (e *Executor[T]) newBackoff() backoff.Backoff {
	b := backoff.NewExponential(e.cfg.BaseDelay)
	if e.cfg.MaxDelay > 0 {
		b = backoff.WithCappedDuration(e.cfg.MaxDelay, b)
	}
	if e.cfg.Jitter > 0 {
		b = backoff.WithJitter(e.cfg.Jitter, b)
	}
	maxRetries := uint64(e.cfg.MaxAttempts - 1) // #nosec G115 -- validated >= 1
	return backoff.WithMaxRetries(maxRetries, b)
}

func (e *Executor[T]) shouldRetry(err error) bool {
	if e.cfg.Predicate == nil {
		return true
	}
	return e.cfg.Predicate(err)
}

// runAttempt invokes op, converting a panic into an error so a single bad
// attempt cannot take down the run.
func runAttempt[T any](ctx context.Context, op operation.Operation[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panic: %v", r)
		}
	}()
	return op(ctx)
}

// Do runs op under cfg with a throwaway executor. Config errors surface as a
// failed result with zero attempts.
func Do[T any](ctx context.Context, cfg *Config, op operation.Operation[T]) operation.Result[T] {
	exec, err := NewExecutor[T](cfg)
	if err != nil {
		return operation.NewFailure[T](err, 0, 0)
	}
	return exec.Execute(ctx, op)
}
