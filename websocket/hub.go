package websocket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks open connections so they can be counted and closed on shutdown.
type Hub struct {
	connections map[string]*Connection
	mutex       sync.RWMutex
	logger      *slog.Logger

	// sessions counts registered connections until they are unregistered,
	// which happens only after OnDisconnect has returned.
	sessions sync.WaitGroup
	closing  bool
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		logger:      logger,
	}
}

// Register adds a connection to the hub. It returns false once Shutdown has
// started; the caller must then drop the connection.
func (h *Hub) Register(conn *Connection) bool {
	h.mutex.Lock()
	if h.closing {
		h.mutex.Unlock()
		return false
	}
	h.connections[conn.id] = conn
	h.sessions.Add(1)
	count := len(h.connections)
	h.mutex.Unlock()

	h.logger.Debug("connection registered", "session_id", conn.id, "active", count)
	return true
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.mutex.Lock()
	_, ok := h.connections[conn.id]
	delete(h.connections, conn.id)
	count := len(h.connections)
	h.mutex.Unlock()

	if ok {
		h.sessions.Done()
		h.logger.Debug("connection unregistered", "session_id", conn.id, "active", count)
	}
}

// Get returns the open connection with the given session id.
func (h *Hub) Get(id string) (*Connection, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	conn, ok := h.connections[id]
	return conn, ok
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.connections)
}

// CloseAll closes every open connection with the given status.
func (h *Hub) CloseAll(code int, reason string) {
	h.mutex.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mutex.RUnlock()

	for _, conn := range conns {
		if err := conn.Close(code, reason); err != nil {
			h.logger.Debug("close failed", "session_id", conn.id, "error", err)
		}
	}
	if len(conns) > 0 {
		h.logger.Info("closed open connections", "count", len(conns), "code", code)
	}
}

// Shutdown refuses new connections, closes the open ones with 1001 and waits
// until every session has run its disconnect callback or ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mutex.Lock()
	h.closing = true
	h.mutex.Unlock()

	h.CloseAll(websocket.CloseGoingAway, "server shutting down")

	drained := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		h.logger.Warn("sessions still open after shutdown timeout", "active", h.Count())
		return ctx.Err()
	}
}
