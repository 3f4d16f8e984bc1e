package raop

import (
	"log/slog"
	"sync"
)

// Registry tracks live drivers by active_remote_id, enforcing uniqueness
// across concurrent sessions: a fresh id is drawn per session, and the
// registry retries NewDriver until it lands on one not already held by
// another live session.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Driver
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Driver)}
}

// Create builds a driver with a unique active_remote_id and registers it.
// Callers must call Release once the driver has exited.
func (r *Registry) Create(cfg StartupConfig, logger *slog.Logger, onStateChange func(State)) *Driver {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		d := NewDriver(cfg, logger, onStateChange)
		if _, taken := r.active[d.ActiveRemoteID()]; taken {
			continue
		}
		r.active[d.ActiveRemoteID()] = d
		return d
	}
}

// Count returns the number of currently live drivers, used for the
// "active drivers" metrics gauge.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Get looks up a live driver by its active_remote_id, used by the DACP
// control server to route an inbound command to the right delivery
// driver.
func (r *Registry) Get(activeRemoteID string) (*Driver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.active[activeRemoteID]
	return d, ok
}

// Release drops a driver from the registry and removes its control pipe.
func (r *Registry) Release(d *Driver) {
	r.mu.Lock()
	delete(r.active, d.ActiveRemoteID())
	r.mu.Unlock()
	RemoveFifo(d.ActiveRemoteID())
}
