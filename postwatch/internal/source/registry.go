package source

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry maps adapter names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	logger   *slog.Logger
}

// NewRegistry creates a Registry holding the given adapters.
func NewRegistry(logger *slog.Logger, adapters ...Adapter) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{adapters: make(map[string]Adapter), logger: logger}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter under its own name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[a.Name()] = a
	r.mu.Unlock()
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the adapters for names, in that order. Unknown names are
// skipped with a warning, duplicates keep their first position.
func (r *Registry) Resolve(names []string) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		a, ok := r.adapters[n]
		if !ok {
			r.logger.Warn("source: unknown adapter skipped", "source", n)
			continue
		}
		out = append(out, a)
	}
	return out
}

// Forget purges per-handle state from every adapter that keeps some.
func (r *Registry) Forget(handle string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.adapters {
		if f, ok := a.(Forgetter); ok {
			f.Forget(handle)
		}
	}
}
