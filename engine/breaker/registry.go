package breaker

import (
	"sort"
	"sync"
)

// Registry hands out named breakers so independent tasks protecting the same
// downstream share one failure history.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults *Config
}

// NewRegistry builds a registry whose breakers are created with defaults.
// A nil defaults falls back to DefaultConfig per breaker.
func NewRegistry(defaults *Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// GetOrCreate returns the breaker registered under name, creating it with
// the registry defaults on first use.
func (r *Registry) GetOrCreate(name string) (*Breaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b, nil
	}
	b, err := New(name, r.defaults)
	if err != nil {
		return nil, err
	}
	r.breakers[name] = b
	return b, nil
}

// Get returns the breaker registered under name, if any.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Names returns the registered breaker names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns a point-in-time view of every registered breaker, keyed
// by name.
func (r *Registry) Snapshots() map[string]Status {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()
	out := make(map[string]Status, len(breakers))
	for _, b := range breakers {
		out[b.Name()] = b.Snapshot()
	}
	return out
}
