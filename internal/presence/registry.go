// Package presence tracks which user identities currently hold at least one
// live WebSocket connection. The registry is process-local and rebuilt from
// scratch on restart: until users reconnect they simply appear offline.
package presence

import "sync"

// Registry is a reference-counted presence map. Each identity maps to the
// number of live connections it currently holds, so multi-tab and multi-device
// users stay online until their last connection closes.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]int // identity -> live connection count
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]int)}
}

// Add records one live connection for the identity. It returns true if this
// was the identity's first connection (i.e. the user just came online).
func (r *Registry) Add(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[identity]++
	return r.conns[identity] == 1
}

// Remove records the loss of one connection for the identity. It returns true
// if this was the identity's last connection (i.e. the user just went
// offline). Removing a non-member is a no-op and returns false.
func (r *Registry) Remove(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.conns[identity]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(r.conns, identity)
		return true
	}
	r.conns[identity] = n - 1
	return false
}

// Contains reports whether the identity has at least one live connection.
func (r *Registry) Contains(identity string) bool {
	r.mu.RLock()
	_, ok := r.conns[identity]
	r.mu.RUnlock()
	return ok
}

// Snapshot returns the identities currently online. The returned slice is a
// copy and safe to use without holding any lock.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	return ids
}

// Count returns the number of distinct identities currently online.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}
