package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/resily/resily/engine/metrics"
	"github.com/resily/resily/engine/operation"
	"github.com/resily/resily/pkg/logger"
)

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// State is the lifecycle state of a circuit breaker.
type State string

const (
	// StateClosed admits every call and counts consecutive failures.
	StateClosed State = "CLOSED"
	// StateOpen rejects every call until the recovery timeout elapses.
	StateOpen State = "OPEN"
	// StateHalfOpen admits exactly one probe call and rejects the rest.
	StateHalfOpen State = "HALF_OPEN"
)

func (s State) String() string {
	return string(s)
}

// -----------------------------------------------------------------------------
// Breaker
// -----------------------------------------------------------------------------

// Breaker is a mutex-guarded circuit breaker. It trips open after a run of
// consecutive failures, rejects calls while open, and admits a single probe
// once the recovery timeout has elapsed. State transitions happen lazily on
// calls; an idle open breaker stays open until someone asks it to work.
type Breaker struct {
	name string
	cfg  *Config
	now  func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureTime     time.Time
	probeInFlight       bool
}

// Option customizes a breaker at construction time.
type Option func(*Breaker)

// WithClock replaces the wall clock, letting tests drive the recovery window.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// New builds a breaker named name. Unset config fields are filled from
// DefaultConfig.
func New(name string, cfg *Config, opts ...Option) (*Breaker, error) {
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
	b := &Breaker{
		name:  name,
		cfg:   merged,
		now:   time.Now,
		state: StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}

// Config returns the effective policy the breaker runs with.
func (b *Breaker) Config() Config {
	return *b.cfg
}

// Do runs op under the breaker. While the breaker is open the call is
// rejected with an *OpenError and op is never invoked.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error) error {
	isProbe, err := b.allow(ctx)
	if err != nil {
		return err
	}
	opErr := op(ctx)
	b.record(ctx, opErr == nil, isProbe)
	return opErr
}

// State returns the current state without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status is a point-in-time view of a breaker.
type Status struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time"`
}

// Snapshot returns a copy of the breaker's observable state.
func (b *Breaker) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:                b.name,
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureTime:     b.lastFailureTime,
	}
}

// allow decides whether the call may proceed, transitioning OPEN to HALF_OPEN
// when the recovery timeout has elapsed. The caller that triggers the
// transition becomes the probe.
func (b *Breaker) allow(ctx context.Context) (isProbe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		elapsed := b.now().Sub(b.lastFailureTime)
		if elapsed < b.cfg.RecoveryTimeout {
			metrics.RecordBreakerRejection(ctx, b.name)
			return false, &OpenError{
				Name:       b.name,
				State:      StateOpen,
				RetryAfter: b.cfg.RecoveryTimeout - elapsed,
			}
		}
		b.transition(ctx, StateHalfOpen)
		b.probeInFlight = true
		return true, nil
	default: // StateHalfOpen
		if b.probeInFlight {
			metrics.RecordBreakerRejection(ctx, b.name)
			return false, &OpenError{Name: b.name, State: StateHalfOpen}
		}
		b.probeInFlight = true
		return true, nil
	}
}

// record folds a call outcome back into the state machine. Calls admitted
// before a trip and finishing after it are ignored so stragglers cannot move
// the breaker.
func (b *Breaker) record(ctx context.Context, success, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if isProbe {
		b.probeInFlight = false
		if success {
			b.consecutiveFailures = 0
			b.transition(ctx, StateClosed)
			return
		}
		b.lastFailureTime = b.now()
		b.transition(ctx, StateOpen)
		return
	}
	if b.state != StateClosed {
		return
	}
	if success {
		b.consecutiveFailures = 0
		return
	}
	b.consecutiveFailures++
	b.lastFailureTime = b.now()
	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.transition(ctx, StateOpen)
	}
}

// transition moves the breaker to next, recording and logging the change.
// Callers must hold b.mu.
func (b *Breaker) transition(ctx context.Context, next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	metrics.RecordBreakerTransition(ctx, b.name, prev.String(), next.String())
	log := logger.FromContext(ctx)
	switch next {
	case StateOpen:
		log.Warn("circuit breaker opened",
			"breaker", b.name,
			"from", prev,
			"consecutive_failures", b.consecutiveFailures,
		)
	case StateHalfOpen:
		log.Debug("circuit breaker probing for recovery", "breaker", b.name)
	case StateClosed:
		log.Info("circuit breaker closed", "breaker", b.name, "from", prev)
	}
}

// -----------------------------------------------------------------------------
// Generic execution
// -----------------------------------------------------------------------------

// Execute runs op under b and returns its value. Rejections surface as
// *OpenError without invoking op.
func Execute[T any](ctx context.Context, b *Breaker, op operation.Operation[T]) (T, error) {
	var value T
	err := b.Do(ctx, func(ctx context.Context) error {
		v, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		value = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}
