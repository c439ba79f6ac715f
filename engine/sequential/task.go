package sequential

import (
	"context"
	"errors"

	"github.com/resily/resily/engine/breaker"
	"github.com/resily/resily/engine/retry"
)

var (
	// ErrDuplicateKey reports two tasks sharing a result key.
	ErrDuplicateKey = errors.New("duplicate task key")
	// ErrUnknownDependency reports a dependency that is neither an earlier
	// task nor an external value.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrForwardDependency reports a dependency on a task that runs later in
	// the list, itself included.
	ErrForwardDependency = errors.New("dependency must reference an earlier task")
)

// Op is the work signature for sequential tasks. deps carries the resolved
// dependency values declared in DependsOn; dependencies that failed, were
// skipped, or cannot be resolved are simply absent from the map.
type Op[T any] func(ctx context.Context, deps map[string]any) (T, error)

// Condition decides from the resolved dependencies whether a task runs at
// all. Tasks whose condition returns false are skipped entirely: no result,
// no tracker entries, no lifecycle events.
type Condition func(deps map[string]any) bool

// Task describes one step of a sequential run.
type Task[T any] struct {
	// Key identifies the task's result and tracker entries. Keys must be
	// unique within a run.
	Key string
	// Op is the work to execute.
	Op Op[T]
	// DependsOn names the values resolved into the op's deps map. Each name
	// must refer to an earlier task in the list or to an external value.
	DependsOn []string
	// Condition gates execution. Nil means the task always runs.
	Condition Condition
	// Retry overrides the runner's default retry policy for this task.
	Retry *retry.Config
	// AbortOnError stops the remaining list when this task fails.
	AbortOnError bool
	// Breaker optionally guards every attempt of this task.
	Breaker *breaker.Breaker
}
