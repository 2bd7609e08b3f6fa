package realtime

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/landhub-tz/backend/internal/logger"
)

// Registry owns the set of live connections on this process. Structural
// mutation is serialized; sends run concurrently against a snapshot. A
// send that fails removes the connection without interrupting the rest
// of the broadcast.
type Registry struct {
	log *logger.Logger

	mu    sync.RWMutex
	conns map[*Conn]struct{}
	users map[string]*Conn
}

// NewRegistry creates an empty connection registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		log:   log,
		conns: make(map[*Conn]struct{}),
		users: make(map[string]*Conn),
	}
}

// Serve wraps an upgraded websocket as a managed connection and
// registers it. userID may be empty for anonymous connections.
func (r *Registry) Serve(ws *websocket.Conn, userID string) *Conn {
	conn := &Conn{
		ws:       ws,
		registry: r,
		log:      r.log,
		userID:   userID,
		send:     make(chan []byte, sendBuffer),
		closed:   make(chan struct{}),
	}
	r.add(conn)
	return conn
}

// add registers a connection.
func (r *Registry) add(c *Conn) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	if c.userID != "" {
		r.users[c.userID] = c
	}
	total := len(r.conns)
	r.mu.Unlock()

	r.log.Info("Websocket connected", map[string]interface{}{
		"total_connections": total,
	})
}

// Remove deregisters a connection. Removal is idempotent; removing an
// unknown connection is a no-op.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	if _, ok := r.conns[c]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, c)
	if c.userID != "" && r.users[c.userID] == c {
		delete(r.users, c.userID)
	}
	total := len(r.conns)
	r.mu.Unlock()

	r.log.Info("Websocket disconnected", map[string]interface{}{
		"total_connections": total,
	})
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// BroadcastLocal delivers an envelope to every locally registered
// connection, best-effort. Broadcasting with zero connections is a
// silent no-op.
func (r *Registry) BroadcastLocal(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		r.log.Error("Failed to encode broadcast envelope", err, nil)
		return
	}

	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(payload) {
			c.Close()
		}
	}
}

// SendTo delivers an envelope to the connection owned by identity.
// A no-op when that identity is not connected here.
func (r *Registry) SendTo(userID string, env Envelope) {
	r.mu.RLock()
	c, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	payload, err := json.Marshal(env)
	if err != nil {
		r.log.Error("Failed to encode personal envelope", err, nil)
		return
	}
	if !c.enqueue(payload) {
		c.Close()
	}
}

// CloseAll tears down every connection, for process shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.Close()
	}
}
