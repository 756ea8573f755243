package websocket

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleWebSocket_RepliesInOrder(t *testing.T) {
	handler := &recordingHandler{}
	_, url := startServer(t, handler, DefaultOptions(), nil)
	conn := dial(t, url)

	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("m%d", i))))
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("m%d", i), readText(t, conn))
	}

	closeClient(t, conn, websocket.CloseNormalClosure, "bye")
	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)

	status := handler.waitDisconnect(t)
	assert.Equal(t, CloseStatus{Code: websocket.CloseNormalClosure, Reason: "bye"}, status)

	events, _ := handler.snapshot()
	require.Len(t, events, n+2)
	assert.Equal(t, "connect", events[0])
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("message:m%d", i), events[i+1])
	}
	assert.Equal(t, "disconnect", events[n+1])
}

func TestHandleWebSocket_SessionIDs(t *testing.T) {
	handler := &recordingHandler{}
	hub, url := startServer(t, handler, DefaultOptions(), nil)

	dial(t, url)
	dial(t, url)

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.conns) == 2
	}, readTimeout, 10*time.Millisecond)

	handler.mu.Lock()
	first, second := handler.conns[0], handler.conns[1]
	handler.mu.Unlock()

	assert.NotEmpty(t, first.ID())
	assert.NotEqual(t, first.ID(), second.ID())
	assert.NotEmpty(t, first.RemoteAddr())

	got, ok := hub.Get(first.ID())
	assert.True(t, ok)
	assert.Same(t, first, got)
}

func TestHandleWebSocket_BinaryRejected(t *testing.T) {
	handler := &recordingHandler{}
	_, url := startServer(t, handler, DefaultOptions(), nil)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseUnsupportedData, closeErr.Code)
	assert.Equal(t, "binary messages not supported", closeErr.Text)

	status := handler.waitDisconnect(t)
	assert.Equal(t, websocket.CloseUnsupportedData, status.Code)

	events, _ := handler.snapshot()
	assert.Equal(t, []string{"connect", "disconnect"}, events)
}

func TestHandleWebSocket_HandlerErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    func() error
		code   int
		reason string
	}{
		{
			name:   "plain error",
			err:    func() error { return errors.New("boom") },
			code:   websocket.CloseInternalServerErr,
			reason: "internal error",
		},
		{
			name: "protocol error",
			err: func() error {
				return errors.Wrap(&ProtocolError{Code: websocket.ClosePolicyViolation, Reason: "nope"}, "handle")
			},
			code:   websocket.ClosePolicyViolation,
			reason: "nope",
		},
		{
			name:   "panic",
			err:    func() error { panic("unexpected") },
			code:   websocket.CloseInternalServerErr,
			reason: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &recordingHandler{
				onMessage: func(*Connection, Message) error { return tt.err() },
			}
			_, url := startServer(t, handler, DefaultOptions(), nil)
			conn := dial(t, url)

			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))

			closeErr := readClose(t, conn)
			assert.Equal(t, tt.code, closeErr.Code)
			assert.Equal(t, tt.reason, closeErr.Text)

			status := handler.waitDisconnect(t)
			assert.Equal(t, CloseStatus{Code: tt.code, Reason: tt.reason}, status)
		})
	}
}

func TestHandleWebSocket_ConnectError(t *testing.T) {
	handler := &recordingHandler{connectErr: errors.New("refused")}
	hub, url := startServer(t, handler, DefaultOptions(), nil)
	conn := dial(t, url)

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)

	status := handler.waitDisconnect(t)
	assert.Equal(t, "connect handler failed", status.Reason)
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, readTimeout, 10*time.Millisecond)
}

func TestHandleWebSocket_MessageTooBig(t *testing.T) {
	handler := &recordingHandler{}
	opts := DefaultOptions()
	opts.MaxMessageSize = 16
	_, url := startServer(t, handler, opts, nil)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 128))))

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseMessageTooBig, closeErr.Code)

	status := handler.waitDisconnect(t)
	assert.Equal(t, websocket.CloseMessageTooBig, status.Code)
}

func TestHandleWebSocket_Keepalive(t *testing.T) {
	opts := Options{PongWait: 200 * time.Millisecond, PingInterval: 50 * time.Millisecond}

	t.Run("responsive client stays connected", func(t *testing.T) {
		handler := &recordingHandler{}
		hub, url := startServer(t, handler, opts, nil)
		conn := dial(t, url)

		// Reading lets the client answer pings.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		time.Sleep(4 * opts.PongWait)
		assert.Equal(t, 1, hub.Count())
	})

	t.Run("silent client is dropped", func(t *testing.T) {
		handler := &recordingHandler{}
		hub, url := startServer(t, handler, opts, nil)
		dial(t, url)

		status := handler.waitDisconnect(t)
		assert.Equal(t, websocket.CloseAbnormalClosure, status.Code)
		assert.Eventually(t, func() bool { return hub.Count() == 0 }, readTimeout, 10*time.Millisecond)
	})
}

func TestConnection_SendAfterClose(t *testing.T) {
	handler := &recordingHandler{}
	_, url := startServer(t, handler, DefaultOptions(), nil)
	conn := dial(t, url)

	closeClient(t, conn, websocket.CloseNormalClosure, "")
	handler.waitDisconnect(t)

	handler.mu.Lock()
	serverConn := handler.conns[0]
	handler.mu.Unlock()

	err := serverConn.SendText([]byte("late"))
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.NoError(t, serverConn.Close(websocket.CloseNormalClosure, "again"))

	select {
	case <-serverConn.Done():
	default:
		t.Fatal("Done should be closed after disconnect")
	}
}

func TestUpgradeFailure(t *testing.T) {
	handler := &recordingHandler{}
	_, url := startServer(t, handler, DefaultOptions(), nil)

	resp, err := http.Get("http" + strings.TrimPrefix(url, "ws"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	events, _ := handler.snapshot()
	assert.Empty(t, events)
}

func TestOptionsWithDefaults(t *testing.T) {
	opts := Options{PongWait: time.Second, PingInterval: 2 * time.Second}.withDefaults()

	assert.Equal(t, time.Second, opts.PongWait)
	assert.Equal(t, 900*time.Millisecond, opts.PingInterval)
	assert.Equal(t, DefaultOptions().WriteWait, opts.WriteWait)
	assert.Equal(t, DefaultOptions().MaxMessageSize, opts.MaxMessageSize)
}

func TestCloseStatusString(t *testing.T) {
	assert.Equal(t, "1000", CloseStatus{Code: 1000}.String())
	assert.Equal(t, "1007 (malformed request)", CloseStatus{Code: 1007, Reason: "malformed request"}.String())
}
