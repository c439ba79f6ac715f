package tracker

import "sync"

// -----------------------------------------------------------------------------
// Progress tracking
// -----------------------------------------------------------------------------

// ProgressState describes the loading state of a single tracked key.
type ProgressState struct {
	IsLoading bool    `json:"is_loading"`
	Progress  float64 `json:"progress"`
	Message   string  `json:"message,omitempty"`
}

// Progress tracks per-key loading state for a run. All methods are safe for
// concurrent use; reads never block other reads.
type Progress struct {
	mu     sync.RWMutex
	states map[string]ProgressState
}

func NewProgress() *Progress {
	return &Progress{states: make(map[string]ProgressState)}
}

// Start marks key as loading with zero progress.
func (p *Progress) Start(key, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[key] = ProgressState{IsLoading: true, Progress: 0, Message: message}
}

// SetProgress updates the completion percentage for key, clamped to [0, 100].
// Unknown keys are created in the loading state.
func (p *Progress) SetProgress(key string, percent float64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.states[key]
	if !ok {
		state = ProgressState{IsLoading: true}
	}
	state.Progress = clampPercent(percent)
	if message != "" {
		state.Message = message
	}
	p.states[key] = state
}

// Complete marks key as done with full progress.
func (p *Progress) Complete(key, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[key] = ProgressState{IsLoading: false, Progress: 100, Message: message}
}

// Fail marks key as no longer loading, keeping whatever progress it reached.
func (p *Progress) Fail(key, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := p.states[key]
	state.IsLoading = false
	state.Message = message
	p.states[key] = state
}

func (p *Progress) Get(key string) (ProgressState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	state, ok := p.states[key]
	return state, ok
}

// IsAnyLoading reports whether at least one tracked key is still loading.
func (p *Progress) IsAnyLoading() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, state := range p.states {
		if state.IsLoading {
			return true
		}
	}
	return false
}

// OverallProgress returns the mean progress across all tracked keys, or zero
// when nothing is tracked.
func (p *Progress) OverallProgress() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.states) == 0 {
		return 0
	}
	var total float64
	for _, state := range p.states {
		total += state.Progress
	}
	return total / float64(len(p.states))
}

// Snapshot returns a copy of every tracked state.
func (p *Progress) Snapshot() map[string]ProgressState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]ProgressState, len(p.states))
	for key, state := range p.states {
		out[key] = state
	}
	return out
}

// Reset removes every tracked key.
func (p *Progress) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = make(map[string]ProgressState)
}

func clampPercent(percent float64) float64 {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}
