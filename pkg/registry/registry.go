// Package registry maps authenticated users to their single live push
// connection. It is process-lifetime state, rebuilt from nothing on restart;
// clients re-register when they reconnect.
package registry

import (
	"sync"

	"github.com/baithak/sandesh/pkg/model"
)

// Handle is one live push connection. Send reports whether the event was
// accepted; a false return marks the handle dead (slow or gone) and the
// registry will evict it.
type Handle interface {
	Send(ev model.Event) bool
	Close()
}

// Registry holds at most one handle per user. Registering a new handle for a
// user replaces the old one.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Handle
}

func New() *Registry {
	return &Registry{conns: make(map[string]Handle)}
}

// Register stores h as the user's live connection and returns the handle it
// replaced, if any. The caller is responsible for closing the old handle.
func (r *Registry) Register(userID string, h Handle) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.conns[userID]
	r.conns[userID] = h
	return old
}

// Unregister removes the user's registration, but only if h is still the
// current handle. A connection that was already replaced must not evict its
// successor.
func (r *Registry) Unregister(userID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[userID]; ok && cur == h {
		delete(r.conns, userID)
		return true
	}
	return false
}

func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.conns[userID]
	return h, ok
}

// Push delivers ev to the user's registered connection. An unregistered user
// is a normal miss, not an error. A handle that refuses the event is evicted
// and closed.
func (r *Registry) Push(userID string, ev model.Event) bool {
	h, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	if h.Send(ev) {
		return true
	}
	if r.Unregister(userID, h) {
		h.Close()
	}
	return false
}
