// Package live provides the WebSocket transport for the widget.
package live

import (
	"sync"

	"github.com/coder/websocket"
)

type socketKey struct {
	visitorID string
	sessionID string
}

// Registry holds at most one open socket per (visitor, session) pair. A
// widget that reconnects, or a second tab on the same session, displaces the
// older socket.
type Registry struct {
	mu      sync.Mutex
	sockets map[socketKey]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sockets: make(map[socketKey]*websocket.Conn)}
}

// Register makes conn the socket of the pair. It reports whether an older
// socket was displaced; that socket is closed.
func (r *Registry) Register(visitorID, sessionID string, conn *websocket.Conn) bool {
	key := socketKey{visitorID, sessionID}

	r.mu.Lock()
	old := r.sockets[key]
	r.sockets[key] = conn
	r.mu.Unlock()

	if old == nil || old == conn {
		return false
	}
	_ = old.Close(websocket.StatusNormalClosure, "session replaced")
	return true
}

// Unregister forgets conn unless it has already been displaced.
func (r *Registry) Unregister(visitorID, sessionID string, conn *websocket.Conn) {
	key := socketKey{visitorID, sessionID}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sockets[key] == conn {
		delete(r.sockets, key)
	}
}

// Len returns the number of open sockets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sockets)
}

// CloseAll closes every socket and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sockets := r.sockets
	r.sockets = make(map[socketKey]*websocket.Conn)
	r.mu.Unlock()

	for _, conn := range sockets {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
