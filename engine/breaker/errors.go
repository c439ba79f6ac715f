package breaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrOpen matches every rejection raised by an open breaker, so callers can
// test with errors.Is without caring about the concrete error type.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError reports a call rejected without invoking the operation.
type OpenError struct {
	// Name identifies the breaker that rejected the call.
	Name string
	// State is the breaker state at rejection time.
	State State
	// RetryAfter is how long until the breaker admits a probe. Zero when a
	// probe is already in flight.
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	msg := fmt.Sprintf("circuit breaker %q is %s", e.Name, e.State)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(": retry after %s", e.RetryAfter.Round(time.Millisecond))
	}
	return msg
}

func (e *OpenError) Unwrap() error {
	return ErrOpen
}
