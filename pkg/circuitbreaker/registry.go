package circuitbreaker

import "sync"

// Registry lazily creates and retains one Breaker per name, so callers
// don't need to thread breaker instances through every call site.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	newCfg   func(name string) Config
}

// NewRegistry constructs a Registry that builds each new breaker's Config
// via newCfg (e.g. DefaultConfig with per-breaker overrides).
func NewRegistry(newCfg func(name string) Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		newCfg:   newCfg,
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg := DefaultConfig(name)
	if r.newCfg != nil {
		cfg = r.newCfg(name)
	}
	b := New(cfg)
	r.breakers[name] = b
	return b
}

// Reset forces the named breaker back to CLOSED, used by the gated
// observability reset endpoint.
func (r *Registry) Reset(name string) bool {
	r.mu.Lock()
	b, ok := r.breakers[name]
	r.mu.Unlock()
	if !ok {
		return false
	}
	b.mu.Lock()
	b.setState(StateClosed)
	b.outcomes = nil
	b.consecutiveFail = 0
	b.halfOpenSuccess = 0
	b.mu.Unlock()
	return true
}

// Snapshot describes one breaker's externally-visible state, for the
// observability endpoint.
type Snapshot struct {
	Name  string
	State State
}

// All returns a snapshot of every known breaker.
func (r *Registry) All() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for name, b := range r.breakers {
		out = append(out, Snapshot{Name: name, State: b.State()})
	}
	return out
}
