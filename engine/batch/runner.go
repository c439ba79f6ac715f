package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/resily/resily/engine/breaker"
	"github.com/resily/resily/engine/core"
	"github.com/resily/resily/engine/metrics"
	"github.com/resily/resily/engine/operation"
	"github.com/resily/resily/engine/retry"
	"github.com/resily/resily/engine/tracker"
	"github.com/resily/resily/pkg/logger"
)

// Runner executes keyed tasks concurrently under a fixed concurrency limit.
// Tasks are admitted strictly in slice order, so at any concurrency limit the
// first tasks of the batch are the first in flight.
type Runner[T any] struct {
	defaults *retry.Config
	progress *tracker.Progress
	errs     *tracker.Errors
	observer operation.Observer
}

// Option customizes a runner at construction time.
type Option[T any] func(*Runner[T])

// WithDefaultRetry sets the retry policy tasks fall back to.
func WithDefaultRetry[T any](cfg *retry.Config) Option[T] {
	return func(r *Runner[T]) {
		r.defaults = cfg
	}
}

// WithProgressTracker publishes per-task loading state into p.
func WithProgressTracker[T any](p *tracker.Progress) Option[T] {
	return func(r *Runner[T]) {
		r.progress = p
	}
}

// WithErrorTracker publishes per-task failure state into e.
func WithErrorTracker[T any](e *tracker.Errors) Option[T] {
	return func(r *Runner[T]) {
		r.errs = e
	}
}

// WithObserver forwards run lifecycle events to obs.
func WithObserver[T any](obs operation.Observer) Option[T] {
	return func(r *Runner[T]) {
		r.observer = obs
	}
}

func NewRunner[T any](opts ...Option[T]) *Runner[T] {
	r := &Runner[T]{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes tasks with at most concurrency in flight and returns the
// results keyed by task key. Task failures land in the result map rather than
// the error return; the error reports configuration problems and context
// cancellation. Tasks discarded by AbortOnError or cancellation before they
// started have no result map entry.
func (r *Runner[T]) Run(
	ctx context.Context,
	tasks []Task[T],
	concurrency int,
) (map[string]operation.Result[T], error) {
	if concurrency < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, concurrency)
	}
	if err := r.validateTasks(tasks); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return map[string]operation.Result[T]{}, nil
	}

	log := logger.FromContext(ctx)
	runID := core.MustNewID()
	start := time.Now()
	log.Debug("batch run starting",
		"run_id", runID,
		"total", len(tasks),
		"concurrency", concurrency,
	)

	results := make([]operation.Result[T], len(tasks))
	ran := make([]bool, len(tasks))
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	var aborted atomic.Bool
	var completed atomic.Int64
	total := len(tasks)

	admitted := 0
	for i := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if aborted.Load() {
			sem.Release(1)
			break
		}
		task := &tasks[i]
		idx := i
		admitted++
		r.markStarted(ctx, task.Key)
		wg.Go(func() {
			defer sem.Release(1)
			res := r.runTask(ctx, task)
			results[idx] = res
			ran[idx] = true
			if !res.Success && task.AbortOnError {
				aborted.Store(true)
			}
			r.markFinished(ctx, task, res)
			done := completed.Add(1)
			operation.NotifyProgress(ctx, r.observer, float64(done)/float64(total)*100)
		})
	}
	wg.Wait()

	out := make(map[string]operation.Result[T], admitted)
	summary := struct{ succeeded, failed int }{}
	for i := range tasks {
		if !ran[i] {
			continue
		}
		out[tasks[i].Key] = results[i]
		if results[i].Success {
			summary.succeeded++
		} else {
			summary.failed++
		}
	}
	elapsed := time.Since(start)
	metrics.RecordRunDuration(ctx, "batch", elapsed)
	log.Info("batch run finished",
		"run_id", runID,
		"total", total,
		"succeeded", summary.succeeded,
		"failed", summary.failed,
		"discarded", total-admitted,
		"duration_ms", elapsed.Milliseconds(),
	)
	return out, ctx.Err()
}

// markStarted runs in the dispatch loop, so tracker entries and stage events
// follow admission order and discarded tasks never appear anywhere.
func (r *Runner[T]) markStarted(ctx context.Context, key string) {
	if r.progress != nil {
		r.progress.Start(key, "starting")
	}
	operation.NotifyStageChange(ctx, r.observer, key, core.StatusRunning)
}

func (r *Runner[T]) markFinished(ctx context.Context, task *Task[T], res operation.Result[T]) {
	metrics.RecordTaskResult(ctx, "batch", res.Status())
	if res.Success {
		if r.progress != nil {
			r.progress.Complete(task.Key, "completed")
		}
		if r.errs != nil {
			r.errs.Clear(task.Key)
		}
		operation.NotifyStageChange(ctx, r.observer, task.Key, core.StatusSuccess)
		return
	}
	if r.progress != nil {
		r.progress.Fail(task.Key, res.Err.Error())
	}
	if r.errs != nil {
		r.errs.SetError(task.Key, res.Err.Error(), res.Attempts, r.maxAttempts(task))
	}
	operation.NotifyStageChange(ctx, r.observer, task.Key, core.StatusFailed)
}

func (r *Runner[T]) runTask(ctx context.Context, task *Task[T]) operation.Result[T] {
	cfg := task.Retry
	if cfg == nil {
		cfg = &retry.Config{}
	}
	merged, err := cfg.WithDefaults(r.defaults)
	if err != nil {
		return operation.NewFailure[T](err, 0, 0)
	}
	taskOnRetry := merged.OnRetry
	merged.OnRetry = func(attempt int, retryErr error) {
		if taskOnRetry != nil {
			taskOnRetry(attempt, retryErr)
		}
		if r.errs != nil {
			r.errs.SetError(task.Key, retryErr.Error(), attempt, merged.MaxAttempts)
		}
		operation.NotifyRetry(ctx, r.observer, task.Key, attempt, retryErr)
	}
	op := task.Op
	if task.Breaker != nil {
		inner := op
		guard := task.Breaker
		op = func(ctx context.Context) (T, error) {
			return breaker.Execute(ctx, guard, inner)
		}
	}
	exec, err := retry.NewExecutor[T](merged)
	if err != nil {
		return operation.NewFailure[T](err, 0, 0)
	}
	return exec.Execute(ctx, op)
}

func (r *Runner[T]) maxAttempts(task *Task[T]) int {
	cfg := task.Retry
	if cfg == nil {
		cfg = &retry.Config{}
	}
	merged, err := cfg.WithDefaults(r.defaults)
	if err != nil {
		return retry.DefaultConfig().MaxAttempts
	}
	return merged.MaxAttempts
}

// Run executes tasks with a throwaway runner using the default retry policy.
func Run[T any](
	ctx context.Context,
	tasks []Task[T],
	concurrency int,
) (map[string]operation.Result[T], error) {
	return NewRunner[T]().Run(ctx, tasks, concurrency)
}
