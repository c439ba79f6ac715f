package batch

import (
	"errors"
	"fmt"

	"github.com/resily/resily/engine/breaker"
	"github.com/resily/resily/engine/operation"
	"github.com/resily/resily/engine/retry"
)

var (
	// ErrDuplicateKey reports two tasks sharing a result key.
	ErrDuplicateKey = errors.New("duplicate task key")
	// ErrInvalidConcurrency reports a concurrency limit below 1.
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")
)

// Task describes one keyed operation inside a batch run.
type Task[T any] struct {
	// Key identifies the task's result and tracker entries. Keys must be
	// unique within a run.
	Key string
	// Op is the work to execute.
	Op operation.Operation[T]
	// Retry overrides the runner's default retry policy for this task.
	// Unset fields fall back to the runner defaults.
	Retry *retry.Config
	// AbortOnError discards tasks still queued when this task fails.
	// Tasks already in flight run to completion.
	AbortOnError bool
	// Breaker optionally guards every attempt of this task.
	Breaker *breaker.Breaker
}

// validateTasks rejects duplicate or incomplete task definitions and invalid
// per-task retry policies before anything runs.
func (r *Runner[T]) validateTasks(tasks []Task[T]) error {
	seen := make(map[string]struct{}, len(tasks))
	for i := range tasks {
		task := &tasks[i]
		if task.Key == "" {
			return fmt.Errorf("task %d: key is required", i)
		}
		if task.Op == nil {
			return fmt.Errorf("task %q: operation is required", task.Key)
		}
		if _, ok := seen[task.Key]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateKey, task.Key)
		}
		seen[task.Key] = struct{}{}
		if task.Retry != nil {
			merged, err := task.Retry.WithDefaults(r.defaults)
			if err != nil {
				return fmt.Errorf("task %q: %w", task.Key, err)
			}
			if err := merged.Validate(); err != nil {
				return fmt.Errorf("task %q: %w", task.Key, err)
			}
		}
	}
	return nil
}
