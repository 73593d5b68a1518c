// Package registry tracks in-flight analysis runs so an independent control
// call can request cooperative cancellation. The registry is injected into
// the engine at construction; there is no package-global state.
package registry

import "sync"

// Registry maps session ids to an "active" marker and a separate
// cancel-requested set. All methods are safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	active    map[int64]struct{}
	cancelled map[int64]struct{}
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		active:    make(map[int64]struct{}),
		cancelled: make(map[int64]struct{}),
	}
}

// Register marks a session as actively running. Called at pipeline start.
func (r *Registry) Register(sessionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[sessionID] = struct{}{}
}

// Unregister removes the session from both sets. Called unconditionally on
// pipeline exit so neither set leaks entries.
func (r *Registry) Unregister(sessionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, sessionID)
	delete(r.cancelled, sessionID)
}

// RequestCancel flags the session for cancellation. It returns true only if
// the session is currently active; requests against inactive ids have no
// side effect.
func (r *Registry) RequestCancel(sessionID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[sessionID]; !ok {
		return false
	}
	r.cancelled[sessionID] = struct{}{}
	return true
}

// IsCancelled reports whether cancellation has been requested for the session.
func (r *Registry) IsCancelled(sessionID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancelled[sessionID]
	return ok
}
