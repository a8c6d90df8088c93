package datapool

import "sync"

// Registry maps pool names to live pool instances and enforces that at most
// one pool exists per name. Pools register themselves during construction;
// closing a pool releases its name. The zero registry is not usable; create
// one with NewRegistry or use the process-wide default.
type Registry struct {
	mu    sync.Mutex
	pools map[string]any
}

var defaultRegistry = NewRegistry()

// NewRegistry creates an empty registry. Pools in different registries may
// reuse names; pools sharing a transport still share topics by name, so
// isolated registries are how multiple nodes coexist in one process.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]any)}
}

// DefaultRegistry returns the process-wide registry used when no
// WithRegistry option is given.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Lookup returns the pool registered under name, if any. The caller asserts
// the concrete pool type.
func (r *Registry) Lookup(name string) (any, bool) {
	r.mu.Lock()
	pool, ok := r.pools[name]
	r.mu.Unlock()
	return pool, ok
}

// register is an atomic check-then-insert so concurrent constructions of the
// same name cannot both succeed.
func (r *Registry) register(name string, pool any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[name]; ok {
		return ErrDuplicateName
	}
	r.pools[name] = pool
	return nil
}

// release frees the name if it is still held by the given pool.
func (r *Registry) release(name string, pool any) {
	r.mu.Lock()
	if current, ok := r.pools[name]; ok && current == pool {
		delete(r.pools, name)
	}
	r.mu.Unlock()
}
