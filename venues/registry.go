package venues

import (
	"sync"

	"venueflow/errs"
)

// Registry holds connected adapters keyed by venue name. It is written
// during setup and read-only during operation, so a polling tick sees a
// stable view.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Name]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Name]Adapter)}
}

// Register stores an adapter under its name, replacing any previous one.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[a.Name()] = a
	r.mu.Unlock()
}

// Get returns the adapter for a venue.
func (r *Registry) Get(name Name) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindUnsupportedVenue, string(name), "venues.Registry.Get", "no adapter registered for venue %q", name)
	}
	return a, nil
}

// Names lists registered venues.
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Name, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, n)
	}
	return out
}

// CloseAll disconnects every adapter. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.adapters {
		_ = a.Disconnect()
	}
}
