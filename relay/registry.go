package relay

import (
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Registry is the concurrent session id -> Session Handler mapping
// (§4.4), grounded on the teacher's InMemorySessionManager: a
// sync.RWMutex-guarded map giving linearizable insert/remove under
// concurrent access.
type Registry struct {
	mu    sync.RWMutex
	store map[string]*SessionHandler

	// displaced tracks session ids whose handler was just replaced by a
	// concurrent CONNECT (§9 Open Question #1: the source replaces the
	// registry entry without closing the old TCP connection). This is a
	// diagnostics-only TTL set, not a behavior change: WasRecentlyDisplaced
	// reports membership, and no routing decision or metric depends on it.
	displaced *cache.Cache
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		store:     make(map[string]*SessionHandler),
		displaced: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Insert adds or replaces the handler for id. If a handler already
// existed for id, it is returned as (previous, true) so the caller can
// decide what, if anything, to do with it — per the Open Question, the
// registry itself does NOT close the previous handler's TCP connection;
// it will be closed by that handler's own subsequent TCP events.
func (r *Registry) Insert(id string, h *SessionHandler) (previous *SessionHandler, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, replaced = r.store[id]
	if replaced {
		r.displaced.SetDefault(id, previous)
	}
	r.store[id] = h
	return previous, replaced
}

// Lookup returns the handler registered for id, if any.
func (r *Registry) Lookup(id string) (*SessionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.store[id]
	return h, ok
}

// Remove deletes the handler for id only if the currently registered
// handler is exactly h (so a stale teardown from a displaced handler
// can't clobber its replacement). The system session id is never
// removed (§3 invariant 5) — callers should not call Remove for it, but
// Remove is defensive about it regardless.
func (r *Registry) Remove(id string, h *SessionHandler) {
	if id == SystemSessionID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.store[id]; ok && cur == h {
		delete(r.store, id)
	}
}

// WasRecentlyDisplaced reports whether id's handler was replaced by a
// concurrent CONNECT within the diagnostics TTL window.
func (r *Registry) WasRecentlyDisplaced(id string) bool {
	_, found := r.displaced.Get(id)
	return found
}

// Size returns the number of registered sessions.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}
