package sequential

import (
	"context"
	"fmt"
	"time"

	"github.com/resily/resily/engine/breaker"
	"github.com/resily/resily/engine/core"
	"github.com/resily/resily/engine/metrics"
	"github.com/resily/resily/engine/operation"
	"github.com/resily/resily/engine/retry"
	"github.com/resily/resily/engine/tracker"
	"github.com/resily/resily/pkg/logger"
)

// Runner executes tasks one at a time in list order, feeding each task the
// values its dependencies produced. The list order is the execution order;
// nothing ever runs in parallel.
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

// Run executes tasks in order and returns the results keyed by task key.
// external provides dependency values that no task in the list produces.
// Task failures land in the result map; the error reports configuration
// problems and context cancellation. Skipped tasks have no result map entry.
func (r *Runner[T]) Run(
	ctx context.Context,
	tasks []Task[T],
	external map[string]any,
) (map[string]operation.Result[T], error) {
	if err := r.validatePlan(tasks, external); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return map[string]operation.Result[T]{}, nil
	}

	log := logger.FromContext(ctx)
	runID := core.MustNewID()
	start := time.Now()
	total := len(tasks)
	log.Debug("sequential run starting", "run_id", runID, "total", total)

	taskKeys := make(map[string]struct{}, total)
	for i := range tasks {
		taskKeys[tasks[i].Key] = struct{}{}
	}
	out := make(map[string]operation.Result[T], total)
	completed := make(map[string]resolvedValue, total)
	summary := struct{ succeeded, failed, skipped int }{}
	var runErr error
	aborted := false

	for i := range tasks {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		task := &tasks[i]
		deps := resolveDeps(task, taskKeys, completed, external)
		run, condErr := evalCondition(task, deps)
		if condErr == nil && !run {
			summary.skipped++
			metrics.RecordTaskResult(ctx, "sequential", core.StatusSkipped)
			log.Debug("task skipped by condition", "run_id", runID, "task", task.Key)
			continue
		}

		r.markStarted(ctx, task.Key)
		var res operation.Result[T]
		if condErr != nil {
			res = operation.NewFailure[T](condErr, 0, 0)
		} else {
			res = r.runTask(ctx, task, deps)
		}
		out[task.Key] = res
		completed[task.Key] = resolvedValue{value: res.Value, success: res.Success}
		r.markFinished(ctx, task, res)
		if res.Success {
			summary.succeeded++
		} else {
			summary.failed++
		}
		operation.NotifyProgress(ctx, r.observer, float64(i+1)/float64(total)*100)

		if !res.Success && task.AbortOnError {
			aborted = true
			log.Warn("sequential run aborted by task failure",
				"run_id", runID,
				"task", task.Key,
				"remaining", total-i-1,
			)
			break
		}
	}

	elapsed := time.Since(start)
	metrics.RecordRunDuration(ctx, "sequential", elapsed)
	log.Info("sequential run finished",
		"run_id", runID,
		"total", total,
		"succeeded", summary.succeeded,
		"failed", summary.failed,
		"skipped", summary.skipped,
		"aborted", aborted,
		"duration_ms", elapsed.Milliseconds(),
	)
	return out, runErr
}

// evalCondition runs the task condition, converting a panic into an error so
// a broken gate fails the task instead of the process.
func evalCondition[T any](task *Task[T], deps map[string]any) (run bool, err error) {
	if task.Condition == nil {
		return true, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			run = false
			err = fmt.Errorf("condition panic: %v", rec)
		}
	}()
	return task.Condition(deps), nil
}

func (r *Runner[T]) markStarted(ctx context.Context, key string) {
	if r.progress != nil {
		r.progress.Start(key, "starting")
	}
	operation.NotifyStageChange(ctx, r.observer, key, core.StatusRunning)
}

func (r *Runner[T]) markFinished(ctx context.Context, task *Task[T], res operation.Result[T]) {
	metrics.RecordTaskResult(ctx, "sequential", res.Status())
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

func (r *Runner[T]) runTask(ctx context.Context, task *Task[T], deps map[string]any) operation.Result[T] {
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
	op := func(ctx context.Context) (T, error) {
		return task.Op(ctx, deps)
	}
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
	external map[string]any,
) (map[string]operation.Result[T], error) {
	return NewRunner[T]().Run(ctx, tasks, external)
}
