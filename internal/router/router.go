// Package router maps each authenticated user identity to its private
// delivery channel: the set of live connections logged in as that user. All
// targeted pushes from the fanout engine are addressed by identity, never by
// individual connection.
package router

import (
	"sync"

	"github.com/talkline/messenger/internal/protocol"
)

// Conn is the minimal write surface the router needs from a connection. The
// ws package's Connection satisfies it; tests use in-memory fakes.
type Conn interface {
	WriteMessage(data []byte) error
}

// Router is a thread-safe registry of identity channels. A channel exists
// exactly while at least one connection is joined to it.
type Router struct {
	mu       sync.RWMutex
	channels map[string]map[Conn]struct{} // identity -> joined connections
	byConn   map[Conn]string              // connection -> identity
}

// NewRouter creates an empty Router ready for use.
func NewRouter() *Router {
	return &Router{
		channels: make(map[string]map[Conn]struct{}),
		byConn:   make(map[Conn]string),
	}
}

// Join binds the connection to the channel named by identity. A connection
// joins at most one channel; rejoining moves it.
func (r *Router) Join(conn Conn, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[conn]; ok {
		r.leaveLocked(conn, prev)
	}

	ch, ok := r.channels[identity]
	if !ok {
		ch = make(map[Conn]struct{})
		r.channels[identity] = ch
	}
	ch[conn] = struct{}{}
	r.byConn[conn] = identity
}

// Leave removes the connection from its channel. It returns the identity the
// connection was joined to, or "" if it was not joined at all.
func (r *Router) Leave(conn Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byConn[conn]
	if !ok {
		return ""
	}
	r.leaveLocked(conn, identity)
	return identity
}

// leaveLocked removes conn from the identity's channel and deletes the channel
// when it becomes empty. Callers must hold r.mu.
func (r *Router) leaveLocked(conn Conn, identity string) {
	delete(r.byConn, conn)
	if ch, ok := r.channels[identity]; ok {
		delete(ch, conn)
		if len(ch) == 0 {
			delete(r.channels, identity)
		}
	}
}

// Emit delivers the event to every connection joined to the identity's
// channel. If no connection is joined this is silently a no-op: an offline
// user misses the live push and recovers state from the store on reconnect.
// Write errors on individual connections are ignored; dead connections are
// cleaned up by the transport's read path.
func (r *Router) Emit(identity string, event string, payload interface{}) error {
	data, err := protocol.NewServerEvent(event, payload)
	if err != nil {
		return err
	}

	r.mu.RLock()
	conns := make([]Conn, 0, len(r.channels[identity]))
	for conn := range r.channels[identity] {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.WriteMessage(data)
	}
	return nil
}

// BroadcastAll delivers the event to every joined connection across all
// channels. Used for presence-list updates.
func (r *Router) BroadcastAll(event string, payload interface{}) error {
	data, err := protocol.NewServerEvent(event, payload)
	if err != nil {
		return err
	}

	r.mu.RLock()
	conns := make([]Conn, 0, len(r.byConn))
	for conn := range r.byConn {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.WriteMessage(data)
	}
	return nil
}

// Joined returns the number of connections currently joined to the identity's
// channel.
func (r *Router) Joined(identity string) int {
	r.mu.RLock()
	n := len(r.channels[identity])
	r.mu.RUnlock()
	return n
}
