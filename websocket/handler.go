package websocket

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/emaforlin/ws-greeting-server/config"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// MessageType represents different types of WebSocket messages
type MessageType int

const (
	// TextMessage represents a text message
	TextMessage MessageType = websocket.TextMessage
	// BinaryMessage represents a binary message
	BinaryMessage MessageType = websocket.BinaryMessage
)

// ErrConnectionClosed is returned when writing to a connection that is closing.
var ErrConnectionClosed = errors.New("connection closed")

// Message represents a WebSocket message
type Message struct {
	Type MessageType `json:"type"`
	Data []byte      `json:"data"`
}

// CloseStatus describes how a session ended.
type CloseStatus struct {
	Code   int
	Reason string
}

func (s CloseStatus) String() string {
	if s.Reason == "" {
		return fmt.Sprintf("%d", s.Code)
	}
	return fmt.Sprintf("%d (%s)", s.Code, s.Reason)
}

// ProtocolError asks the connection to close with the given status.
type ProtocolError struct {
	Code   int
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol error %d: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("protocol error %d: %s: %v", e.Code, e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Handler represents a WebSocket message handler.
//
// OnConnect is called once before any message, HandleMessage once per text
// frame in arrival order, and OnDisconnect once after the session ends.
type Handler interface {
	OnConnect(conn *Connection) error
	HandleMessage(conn *Connection, message Message) error
	OnDisconnect(conn *Connection, status CloseStatus) error
}

// Options tune per-connection limits and keepalive.
type Options struct {
	MaxMessageSize int64
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Defaults())
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	return o
}

// OptionsFromConfig extracts connection options from the configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingInterval:   cfg.WebSocket.PingInterval,
	}
}

// Connection is the per-session handle passed to every Handler callback.
type Connection struct {
	conn       *websocket.Conn
	id         string
	remoteAddr string
	opts       Options

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	statusMu  sync.Mutex
	status    *CloseStatus
}

func newConnection(conn *websocket.Conn, id, remoteAddr string, opts Options) *Connection {
	return &Connection{
		conn:       conn,
		id:         id,
		remoteAddr: remoteAddr,
		opts:       opts.withDefaults(),
		done:       make(chan struct{}),
	}
}

// ID returns the session identifier
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the client address as seen by the HTTP server
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// Done is closed once the connection starts closing.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// SendText writes one text frame to the client.
func (c *Connection) SendText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "write text frame")
	}
	return nil
}

// Close sends a close frame with code and reason and tears the socket down.
// Only the first call has an effect.
func (c *Connection) Close(code int, reason string) error {
	if !c.markClosed(&CloseStatus{Code: code, Reason: reason}) {
		return nil
	}

	msg := websocket.FormatCloseMessage(code, reason)
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
	c.conn.Close()
	if err != nil {
		return errors.Wrap(err, "write close frame")
	}
	return nil
}

// markClosed closes done and records the server-side status, if any.
// It reports whether this call was the first.
func (c *Connection) markClosed(status *CloseStatus) bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.statusMu.Lock()
		c.status = status
		c.statusMu.Unlock()
		close(c.done)
	})
	return first
}

func (c *Connection) serverStatus() *CloseStatus {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// NewUpgrader creates a WebSocket upgrader with the given configuration
func NewUpgrader(cfg *config.Config) websocket.Upgrader {
	upgrader := websocket.Upgrader{
		ReadBufferSize:    cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:   cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout:  cfg.WebSocket.HandshakeTimeout,
		EnableCompression: cfg.WebSocket.EnableCompression,
	}
	if !cfg.WebSocket.CheckOrigin {
		// Allow all origins; nil falls back to the same-origin check.
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return upgrader
}

// HandleWebSocket creates a WebSocket handler function. The returned handler
// blocks for the lifetime of the session.
func HandleWebSocket(upgrader websocket.Upgrader, hub *Hub, handler Handler, opts Options, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied with an HTTP error.
			logger.Warn("failed to upgrade connection", "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		wsConn := newConnection(conn, uuid.NewString(), r.RemoteAddr, opts)
		if !hub.Register(wsConn) {
			wsConn.Close(websocket.CloseGoingAway, "server shutting down")
			return
		}
		defer hub.Unregister(wsConn)

		var status CloseStatus
		if err := handler.OnConnect(wsConn); err != nil {
			logger.Error("connect handler failed", "session_id", wsConn.id, "error", err)
			wsConn.Close(websocket.CloseInternalServerErr, "connect handler failed")
			status = CloseStatus{Code: websocket.CloseInternalServerErr, Reason: "connect handler failed"}
		} else {
			go wsConn.pingLoop()
			status = wsConn.readLoop(handler, logger)
		}

		wsConn.markClosed(nil)
		conn.Close()

		if err := handler.OnDisconnect(wsConn, status); err != nil {
			logger.Error("disconnect handler failed", "session_id", wsConn.id, "error", err)
		}
	}
}

// readLoop dispatches frames to the handler until the connection fails and
// returns the resulting close status.
func (c *Connection) readLoop(handler Handler, logger *slog.Logger) CloseStatus {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				c.serverStatus() == nil {
				logger.Debug("websocket read failed", "session_id", c.id, "error", err)
			}
			return c.closeStatus(err)
		}

		if messageType != websocket.TextMessage {
			c.Close(websocket.CloseUnsupportedData, "binary messages not supported")
			continue
		}

		if err := safeHandle(handler, c, Message{Type: TextMessage, Data: data}); err != nil {
			code, reason := closeCodeFor(err)
			logger.Warn("message handler failed", "session_id", c.id, "code", code, "error", err)
			c.Close(code, reason)
		}
	}
}

// pingLoop keeps the session alive until the connection closes.
func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
		}
	}
}

// closeStatus maps a read error to the status reported to OnDisconnect.
func (c *Connection) closeStatus(err error) CloseStatus {
	if status := c.serverStatus(); status != nil {
		return *status
	}

	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		return CloseStatus{Code: closeErr.Code, Reason: closeErr.Text}
	case errors.Is(err, websocket.ErrReadLimit):
		return CloseStatus{Code: websocket.CloseMessageTooBig, Reason: "message too big"}
	default:
		return CloseStatus{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
	}
}

func closeCodeFor(err error) (int, string) {
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return protoErr.Code, protoErr.Reason
	}
	return websocket.CloseInternalServerErr, "internal error"
}

// safeHandle turns a handler panic into an internal error.
func safeHandle(handler Handler, conn *Connection, message Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
		}
	}()
	return handler.HandleMessage(conn, message)
}
