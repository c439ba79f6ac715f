package operation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/resily/resily/engine/core"
)

// Operation is a single unit of work executed by the engine. Implementations
// must honor ctx cancellation and report failure through the error return
// instead of panicking.
type Operation[T any] func(ctx context.Context) (T, error)

// -----------------------------------------------------------------------------
// Result
// -----------------------------------------------------------------------------

// Result captures the outcome of running an operation, including how many
// attempts were consumed and how long the run took. Exactly one of Value and
// Err is meaningful: Err is nil if and only if Success is true.
type Result[T any] struct {
	Success  bool
	Value    T
	Err      error
	Attempts int
	Elapsed  time.Duration
}

// NewSuccess returns a successful result carrying value.
func NewSuccess[T any](value T, attempts int, elapsed time.Duration) Result[T] {
	return Result[T]{
		Success:  true,
		Value:    value,
		Attempts: attempts,
		Elapsed:  elapsed,
	}
}

// NewFailure returns a failed result carrying err.
func NewFailure[T any](err error, attempts int, elapsed time.Duration) Result[T] {
	return Result[T]{
		Success:  false,
		Err:      err,
		Attempts: attempts,
		Elapsed:  elapsed,
	}
}

// Status maps the result onto the engine status enum.
func (r Result[T]) Status() core.StatusType {
	return core.StatusFromResult(r.Success)
}

// Unwrap returns the carried value and error in Go's usual pair form.
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

func (r Result[T]) MarshalJSON() ([]byte, error) {
	out := struct {
		Success  bool   `json:"success"`
		Status   string `json:"status"`
		Value    any    `json:"value,omitempty"`
		Error    string `json:"error,omitempty"`
		Attempts int    `json:"attempts"`
		Elapsed  string `json:"elapsed"`
	}{
		Success:  r.Success,
		Status:   r.Status().String(),
		Attempts: r.Attempts,
		Elapsed:  r.Elapsed.String(),
	}
	if r.Success {
		out.Value = r.Value
	} else if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}
