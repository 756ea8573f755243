package websocket

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const readTimeout = 2 * time.Second

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// records decodes every JSON log line written so far.
func (b *syncBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// startServer serves handler on an httptest server and returns the hub and ws:// URL.
func startServer(t *testing.T, handler Handler, opts Options, logger *slog.Logger) (*Hub, string) {
	t.Helper()
	if logger == nil {
		logger, _ = newTestLogger()
	}

	hub := NewHub(logger)
	srv := httptest.NewServer(HandleWebSocket(websocket.Upgrader{}, hub, handler, opts, logger))
	t.Cleanup(func() {
		hub.CloseAll(websocket.CloseGoingAway, "test finished")
		srv.Close()
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	return string(data)
}

// readClose reads until the server's close frame arrives.
func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	return closeErr
}

func closeClient(t *testing.T, conn *websocket.Conn, code int, reason string) {
	t.Helper()
	msg := websocket.FormatCloseMessage(code, reason)
	require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
}

type recordingHandler struct {
	mu       sync.Mutex
	events   []string
	statuses []CloseStatus
	conns    []*Connection

	connectErr error
	onMessage  func(conn *Connection, message Message) error
}

func (h *recordingHandler) OnConnect(conn *Connection) error {
	h.mu.Lock()
	h.events = append(h.events, "connect")
	h.conns = append(h.conns, conn)
	h.mu.Unlock()
	return h.connectErr
}

func (h *recordingHandler) HandleMessage(conn *Connection, message Message) error {
	h.mu.Lock()
	h.events = append(h.events, "message:"+string(message.Data))
	h.mu.Unlock()

	if h.onMessage != nil {
		return h.onMessage(conn, message)
	}
	return conn.SendText(message.Data)
}

func (h *recordingHandler) OnDisconnect(conn *Connection, status CloseStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "disconnect")
	h.statuses = append(h.statuses, status)
	return nil
}

func (h *recordingHandler) snapshot() ([]string, []CloseStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...), append([]CloseStatus(nil), h.statuses...)
}

// waitDisconnect blocks until OnDisconnect has run and returns its status.
func (h *recordingHandler) waitDisconnect(t *testing.T) CloseStatus {
	t.Helper()
	require.Eventually(t, func() bool {
		_, statuses := h.snapshot()
		return len(statuses) == 1
	}, readTimeout, 10*time.Millisecond)

	_, statuses := h.snapshot()
	return statuses[0]
}
