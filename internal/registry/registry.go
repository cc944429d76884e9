// Package registry holds the ordered collection of registered modules.
//
// Iteration order is registration order: broadcasts and the lifecycle
// startup/shutdown sequences deliver to modules in the order they were
// first registered. Re-registering a name replaces the module but keeps
// its original position: last write wins, silently. That permissive
// behavior is deliberate and documented; callers that care can check
// Lookup before registering.
package registry

import (
	"sync"

	"github.com/roundhouse-dev/roundhouse/internal/module"
)

// Registry is the ordered module registry.
//
// Thread-safety: guarded by an RWMutex. Registration normally happens
// before the dispatcher runs, but late registration from another
// goroutine is tolerated.
type Registry struct {
	mu      sync.RWMutex
	names   []string
	modules map[string]module.Module
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		modules: make(map[string]module.Module),
	}
}

// Register stores m under name. Replacing an existing name keeps the
// original iteration position.
func (r *Registry) Register(name string, m module.Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[name]; !exists {
		r.names = append(r.names, name)
	}
	r.modules[name] = m
}

// Lookup returns the most recently registered module for name.
func (r *Registry) Lookup(name string) (module.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Ready reports whether name is registered and its module is ready.
// False for names never registered.
func (r *Registry) Ready(name string) bool {
	r.mu.RLock()
	m, ok := r.modules[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return m.Ready()
}

// Names returns the module names in registration order.
// The returned slice is a copy.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Modules returns the modules in registration order.
func (r *Registry) Modules() []module.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]module.Module, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.modules[name])
	}
	return out
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
