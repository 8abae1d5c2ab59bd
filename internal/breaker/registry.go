package breaker

import (
	"context"
	"sort"
	"sync"
)

// Registry owns the breakers for a process. It is passed by reference to
// every runner that should share circuit state.
type Registry struct {
	defaults  Config
	overrides map[string]Config
	opts      []Option

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry. overrides maps dependency name to its config.
func NewRegistry(defaults Config, overrides map[string]Config, opts ...Option) *Registry {
	cfg := make(map[string]Config, len(overrides))
	for k, v := range overrides {
		cfg[k] = v
	}
	return &Registry{
		defaults:  defaults,
		overrides: cfg,
		opts:      opts,
		breakers:  make(map[string]*Breaker),
	}
}

// Get returns the breaker for dependency, creating it on first use.
func (r *Registry) Get(dependency string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[dependency]; ok {
		return b
	}
	cfg, ok := r.overrides[dependency]
	if !ok {
		cfg = r.defaults
	}
	b := New(dependency, cfg, r.opts...)
	r.breakers[dependency] = b
	return b
}

// Call runs fn through the breaker for dependency.
func (r *Registry) Call(ctx context.Context, dependency string, fn func(ctx context.Context) error) error {
	return r.Get(dependency).Call(ctx, fn)
}

// Snapshots returns the state of every breaker created so far, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dependency < out[j].Dependency })
	return out
}
