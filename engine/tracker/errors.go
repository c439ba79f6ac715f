package tracker

import "sync"

// -----------------------------------------------------------------------------
// Error tracking
// -----------------------------------------------------------------------------

// ErrorState describes the last recorded failure for a tracked key.
type ErrorState struct {
	HasError   bool   `json:"has_error"`
	Message    string `json:"message,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// Errors tracks per-key failure state for a run. All methods are safe for
// concurrent use.
type Errors struct {
	mu     sync.RWMutex
	states map[string]ErrorState
}

func NewErrors() *Errors {
	return &Errors{states: make(map[string]ErrorState)}
}

// SetError records a failure for key along with how many attempts were
// consumed and how many the task allows.
func (e *Errors) SetError(key, message string, retryCount, maxRetries int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[key] = ErrorState{
		HasError:   true,
		Message:    message,
		RetryCount: retryCount,
		MaxRetries: maxRetries,
	}
}

// Clear removes the recorded failure for key, if any.
func (e *Errors) Clear(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, key)
}

func (e *Errors) Get(key string) (ErrorState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state, ok := e.states[key]
	return state, ok
}

// HasAnyErrors reports whether any tracked key currently has a failure.
func (e *Errors) HasAnyErrors() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, state := range e.states {
		if state.HasError {
			return true
		}
	}
	return false
}

// CanRetry reports whether key has attempt budget left. Keys without a
// recorded failure cannot be retried.
func (e *Errors) CanRetry(key string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state, ok := e.states[key]
	if !ok || !state.HasError {
		return false
	}
	return state.RetryCount < state.MaxRetries
}

// Snapshot returns a copy of every tracked state.
func (e *Errors) Snapshot() map[string]ErrorState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]ErrorState, len(e.states))
	for key, state := range e.states {
		out[key] = state
	}
	return out
}

// Reset removes every tracked key.
func (e *Errors) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = make(map[string]ErrorState)
}
