package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resily/resily/engine/breaker"
	"github.com/resily/resily/engine/core"
	"github.com/resily/resily/engine/operation"
	"github.com/resily/resily/engine/retry"
	"github.com/resily/resily/engine/tracker"
)

var errBoom = errors.New("boom")

func fastRetry(maxAttempts int) *retry.Config {
	return &retry.Config{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond}
}

func constOp[T any](value T) operation.Operation[T] {
	return func(context.Context) (T, error) {
		return value, nil
	}
}

func failOp[T any](err error) operation.Operation[T] {
	return func(context.Context) (T, error) {
		var zero T
		return zero, err
	}
}

func TestRunner_Run(t *testing.T) {
	t.Run("Should run every task and key results by task key", func(t *testing.T) {
		runner := NewRunner[string](WithDefaultRetry[string](fastRetry(1)))
		tasks := []Task[string]{
			{Key: "users", Op: constOp("alice")},
			{Key: "orders", Op: constOp("order-7")},
			{Key: "stats", Op: failOp[string](errBoom)},
		}

		results, err := runner.Run(t.Context(), tasks, 2)

		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.True(t, results["users"].Success)
		assert.Equal(t, "alice", results["users"].Value)
		assert.True(t, results["orders"].Success)
		assert.False(t, results["stats"].Success)
		assert.ErrorIs(t, results["stats"].Err, errBoom)
		assert.Equal(t, 1, results["stats"].Attempts)
	})

	t.Run("Should return an empty map for an empty batch", func(t *testing.T) {
		results, err := NewRunner[int]().Run(t.Context(), nil, 1)

		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("Should never exceed the concurrency limit", func(t *testing.T) {
		var inFlight, peak atomic.Int64
		op := func(context.Context) (int, error) {
			current := inFlight.Add(1)
			for {
				observed := peak.Load()
				if current <= observed || peak.CompareAndSwap(observed, current) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return 0, nil
		}
		tasks := make([]Task[int], 6)
		for i, key := range []string{"a", "b", "c", "d", "e", "f"} {
			tasks[i] = Task[int]{Key: key, Op: op}
		}
		runner := NewRunner[int](WithDefaultRetry[int](fastRetry(1)))

		results, err := runner.Run(t.Context(), tasks, 2)

		require.NoError(t, err)
		assert.Len(t, results, 6)
		assert.LessOrEqual(t, peak.Load(), int64(2))
	})

	t.Run("Should run the whole batch in parallel when the limit allows", func(t *testing.T) {
		var barrier sync.WaitGroup
		barrier.Add(4)
		op := func(context.Context) (int, error) {
			barrier.Done()
			barrier.Wait()
			return 0, nil
		}
		tasks := make([]Task[int], 4)
		for i, key := range []string{"a", "b", "c", "d"} {
			tasks[i] = Task[int]{Key: key, Op: op}
		}

		results, err := Run(t.Context(), tasks, 4)

		require.NoError(t, err)
		assert.Len(t, results, 4)
	})

	t.Run("Should admit tasks strictly in slice order at concurrency one", func(t *testing.T) {
		var mu sync.Mutex
		var order []string
		newOp := func(key string) operation.Operation[int] {
			return func(context.Context) (int, error) {
				mu.Lock()
				order = append(order, key)
				mu.Unlock()
				return 0, nil
			}
		}
		tasks := []Task[int]{
			{Key: "first", Op: newOp("first")},
			{Key: "second", Op: newOp("second")},
			{Key: "third", Op: newOp("third")},
			{Key: "fourth", Op: newOp("fourth")},
		}
		runner := NewRunner[int](WithDefaultRetry[int](fastRetry(1)))

		_, err := runner.Run(t.Context(), tasks, 1)

		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second", "third", "fourth"}, order)
	})

	t.Run("Should apply per-task retry config over the runner defaults", func(t *testing.T) {
		var defaultAttempts, overrideAttempts atomic.Int64
		tasks := []Task[int]{
			{Key: "default", Op: func(context.Context) (int, error) {
				defaultAttempts.Add(1)
				return 0, errBoom
			}},
			{Key: "override", Retry: fastRetry(3), Op: func(context.Context) (int, error) {
				overrideAttempts.Add(1)
				return 0, errBoom
			}},
		}
		runner := NewRunner[int](WithDefaultRetry[int](fastRetry(1)))

		results, err := runner.Run(t.Context(), tasks, 2)

		require.NoError(t, err)
		assert.Equal(t, int64(1), defaultAttempts.Load())
		assert.Equal(t, int64(3), overrideAttempts.Load())
		assert.Equal(t, 3, results["override"].Attempts)
	})

	t.Run("Should convert a panicking task into a failed result", func(t *testing.T) {
		tasks := []Task[int]{
			{Key: "bad", Op: func(context.Context) (int, error) { panic("task exploded") }},
			{Key: "good", Op: constOp(1)},
		}
		runner := NewRunner[int](WithDefaultRetry[int](fastRetry(1)))

		results, err := runner.Run(t.Context(), tasks, 2)

		require.NoError(t, err)
		assert.False(t, results["bad"].Success)
		assert.Contains(t, results["bad"].Err.Error(), "task exploded")
		assert.True(t, results["good"].Success)
	})
}

func TestRunner_Abort(t *testing.T) {
	t.Run("Should discard queued tasks after an aborting failure at concurrency one", func(t *testing.T) {
		var thirdInvoked atomic.Bool
		tasks := []Task[string]{
			{Key: "a", Op: constOp("ok")},
			{Key: "b", AbortOnError: true, Op: failOp[string](errBoom)},
			{Key: "c", Op: func(context.Context) (string, error) {
				thirdInvoked.Store(true)
				return "never", nil
			}},
		}
		progress := tracker.NewProgress()
		errs := tracker.NewErrors()
		runner := NewRunner[string](
			WithDefaultRetry[string](fastRetry(2)),
			WithProgressTracker[string](progress),
			WithErrorTracker[string](errs),
		)

		results, err := runner.Run(t.Context(), tasks, 1)

		require.NoError(t, err)
		assert.Len(t, results, 2)
		assert.True(t, results["a"].Success)
		assert.False(t, results["b"].Success)
		assert.Equal(t, 2, results["b"].Attempts)
		assert.NotContains(t, results, "c")
		assert.False(t, thirdInvoked.Load())

		_, tracked := progress.Get("c")
		assert.False(t, tracked)
		_, tracked = errs.Get("c")
		assert.False(t, tracked)
	})

	t.Run("Should let in-flight tasks finish while discarding the queue", func(t *testing.T) {
		tasks := []Task[string]{
			{Key: "slow", Op: func(context.Context) (string, error) {
				time.Sleep(80 * time.Millisecond)
				return "done", nil
			}},
			{Key: "failing", AbortOnError: true, Op: failOp[string](errBoom)},
			{Key: "queued", Op: constOp("never")},
		}
		runner := NewRunner[string](WithDefaultRetry[string](fastRetry(1)))

		results, err := runner.Run(t.Context(), tasks, 2)

		require.NoError(t, err)
		require.Contains(t, results, "slow")
		assert.True(t, results["slow"].Success)
		assert.Equal(t, "done", results["slow"].Value)
		assert.False(t, results["failing"].Success)
		assert.NotContains(t, results, "queued")
	})
}

func TestRunner_Validation(t *testing.T) {
	runner := NewRunner[int](WithDefaultRetry[int](fastRetry(1)))

	t.Run("Should reject duplicate task keys", func(t *testing.T) {
		tasks := []Task[int]{
			{Key: "same", Op: constOp(1)},
			{Key: "same", Op: constOp(2)},
		}

		_, err := runner.Run(t.Context(), tasks, 1)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("Should reject tasks without a key or operation", func(t *testing.T) {
		_, err := runner.Run(t.Context(), []Task[int]{{Op: constOp(1)}}, 1)
		assert.ErrorContains(t, err, "key is required")

		_, err = runner.Run(t.Context(), []Task[int]{{Key: "a"}}, 1)
		assert.ErrorContains(t, err, "operation is required")
	})

	t.Run("Should reject a concurrency limit below one", func(t *testing.T) {
		_, err := runner.Run(t.Context(), []Task[int]{{Key: "a", Op: constOp(1)}}, 0)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConcurrency)
	})

	t.Run("Should reject an invalid per-task retry policy", func(t *testing.T) {
		tasks := []Task[int]{{Key: "a", Op: constOp(1), Retry: &retry.Config{MaxAttempts: -1}}}

		_, err := runner.Run(t.Context(), tasks, 1)

		require.Error(t, err)
		assert.ErrorIs(t, err, retry.ErrInvalidConfig)
	})
}

func TestRunner_Cancellation(t *testing.T) {
	t.Run("Should stop admitting tasks when the context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		sleepOp := func(context.Context) (string, error) {
			time.Sleep(80 * time.Millisecond)
			return "done", nil
		}
		tasks := []Task[string]{
			{Key: "a", Op: sleepOp},
			{Key: "b", Op: sleepOp},
			{Key: "c", Op: sleepOp},
		}
		runner := NewRunner[string](WithDefaultRetry[string](fastRetry(1)))

		go func() {
			time.Sleep(100 * time.Millisecond)
			cancel()
		}()
		results, err := runner.Run(ctx, tasks, 1)

		assert.ErrorIs(t, err, context.Canceled)
		assert.NotContains(t, results, "c")
		assert.True(t, results["a"].Success)
	})
}

func TestRunner_Integration(t *testing.T) {
	t.Run("Should publish tracker state and observer events through the run", func(t *testing.T) {
		progress := tracker.NewProgress()
		errs := tracker.NewErrors()
		var mu sync.Mutex
		stages := map[string][]core.StatusType{}
		var retries []int
		var percents []float64
		obs := &operation.CallbackObserver{
			Progress: func(percent float64) {
				mu.Lock()
				percents = append(percents, percent)
				mu.Unlock()
			},
			StageChange: func(key string, stage core.StatusType) {
				mu.Lock()
				stages[key] = append(stages[key], stage)
				mu.Unlock()
			},
			Retry: func(_ string, attempt int, _ error) {
				mu.Lock()
				retries = append(retries, attempt)
				mu.Unlock()
			},
		}
		runner := NewRunner[string](
			WithDefaultRetry[string](fastRetry(2)),
			WithProgressTracker[string](progress),
			WithErrorTracker[string](errs),
			WithObserver[string](obs),
		)
		tasks := []Task[string]{
			{Key: "stable", Op: constOp("ok")},
			{Key: "flaky", Op: failOp[string](errBoom)},
		}

		results, err := runner.Run(t.Context(), tasks, 1)

		require.NoError(t, err)
		assert.True(t, results["stable"].Success)
		assert.False(t, results["flaky"].Success)

		state, ok := progress.Get("stable")
		require.True(t, ok)
		assert.False(t, state.IsLoading)
		assert.Equal(t, float64(100), state.Progress)
		assert.False(t, progress.IsAnyLoading())

		errState, ok := errs.Get("flaky")
		require.True(t, ok)
		assert.True(t, errState.HasError)
		assert.Equal(t, 2, errState.RetryCount)
		assert.Equal(t, 2, errState.MaxRetries)
		assert.False(t, errs.CanRetry("flaky"))
		_, ok = errs.Get("stable")
		assert.False(t, ok)

		assert.Equal(t, []core.StatusType{core.StatusRunning, core.StatusSuccess}, stages["stable"])
		assert.Equal(t, []core.StatusType{core.StatusRunning, core.StatusFailed}, stages["flaky"])
		assert.Equal(t, []int{1}, retries)
		require.Len(t, percents, 2)
		assert.InDelta(t, 50.0, percents[0], 0.001)
		assert.InDelta(t, 100.0, percents[1], 0.001)
	})

	t.Run("Should leave a manual retry affordance after a short-circuited failure", func(t *testing.T) {
		errs := tracker.NewErrors()
		runner := NewRunner[string](
			WithDefaultRetry[string](&retry.Config{
				MaxAttempts: 3,
				BaseDelay:   time.Millisecond,
				Predicate:   func(error) bool { return false },
			}),
			WithErrorTracker[string](errs),
		)

		results, err := runner.Run(t.Context(), []Task[string]{{Key: "flaky", Op: failOp[string](errBoom)}}, 1)

		require.NoError(t, err)
		assert.False(t, results["flaky"].Success)
		assert.Equal(t, 1, results["flaky"].Attempts)
		assert.True(t, errs.CanRetry("flaky"))
	})

	t.Run("Should reject guarded tasks without invoking the operation while the breaker is open", func(t *testing.T) {
		guard, err := breaker.New("downstream", &breaker.Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
		require.NoError(t, err)
		require.Error(t, guard.Do(t.Context(), func(context.Context) error { return errBoom }))
		require.Equal(t, breaker.StateOpen, guard.State())

		var invoked atomic.Bool
		tasks := []Task[string]{{
			Key:     "guarded",
			Breaker: guard,
			Retry: &retry.Config{
				MaxAttempts: 3,
				BaseDelay:   time.Millisecond,
				Predicate:   func(err error) bool { return !errors.Is(err, breaker.ErrOpen) },
			},
			Op: func(context.Context) (string, error) {
				invoked.Store(true)
				return "never", nil
			},
		}}

		results, runErr := NewRunner[string]().Run(t.Context(), tasks, 1)

		require.NoError(t, runErr)
		assert.False(t, results["guarded"].Success)
		assert.Equal(t, 1, results["guarded"].Attempts)
		assert.ErrorIs(t, results["guarded"].Err, breaker.ErrOpen)
		assert.False(t, invoked.Load())
	})
}
