// Package presence tracks which users currently hold live connections.
// The registry is process-local and advisory: a connection may close the
// instant after a lookup, so callers push on a best-effort basis and fall
// back to offline delivery.
package presence

import "sync"

// Conn is the non-owning view of a live connection. The transport layer
// owns the connection lifecycle; the registry only holds references for
// lookup and fan-out.
type Conn interface {
	UserID() string
	Send(event string, data any) error
}

type Registry struct {
	mu    sync.RWMutex
	users map[string]map[Conn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[Conn]struct{}),
	}
}

// Register adds conn to the user's live set. Registering the same
// connection twice is a no-op.
func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		set = make(map[Conn]struct{})
		r.users[userID] = set
	}
	set[conn] = struct{}{}
}

// Unregister removes conn from its user's live set, dropping the set once
// it is empty. Unknown connections are ignored.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := conn.UserID()
	set, ok := r.users[userID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(r.users, userID)
	}
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// ConnectionsFor returns a snapshot of the user's live connections. The
// snapshot may go stale immediately; senders must tolerate failed pushes.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	if len(set) == 0 {
		return nil
	}
	conns := make([]Conn, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	return conns
}
