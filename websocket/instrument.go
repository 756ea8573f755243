package websocket

import (
	"log/slog"

	"github.com/emaforlin/ws-greeting-server/messages"
	"github.com/emaforlin/ws-greeting-server/metrics"
	"github.com/emaforlin/ws-greeting-server/publisher"
	"github.com/pkg/errors"
)

type instrumented struct {
	next      Handler
	metrics   *metrics.Metrics
	publisher publisher.Publisher
	logger    *slog.Logger
}

// Instrument wraps next so that every lifecycle event is counted in m and
// published to p. Either may be nil. Publish failures are logged only.
func Instrument(next Handler, m *metrics.Metrics, p publisher.Publisher, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &instrumented{next: next, metrics: m, publisher: p, logger: logger}
}

func (h *instrumented) OnConnect(conn *Connection) error {
	if h.metrics != nil {
		h.metrics.Opened()
	}
	event := publisher.NewSessionEvent(conn.ID(), publisher.SessionOpened)
	event.RemoteAddr = conn.RemoteAddr()
	h.publish(event)

	return h.next.OnConnect(conn)
}

func (h *instrumented) HandleMessage(conn *Connection, message Message) error {
	if h.metrics != nil {
		h.metrics.MessagesReceived.Inc()
	}

	err := h.next.HandleMessage(conn, message)

	if h.metrics != nil {
		switch {
		case err == nil:
			h.metrics.MessagesHandled.Inc()
		case errors.Is(err, messages.ErrMalformedRequest):
			h.metrics.MalformedRequests.Inc()
		}
	}
	h.publish(publisher.NewSessionEvent(conn.ID(), publisher.SessionMessage))

	return err
}

func (h *instrumented) OnDisconnect(conn *Connection, status CloseStatus) error {
	event := publisher.NewSessionEvent(conn.ID(), publisher.SessionClosed)
	event.CloseCode = status.Code
	event.Reason = status.Reason
	h.publish(event)

	if h.metrics != nil {
		h.metrics.Closed(status.Code)
	}

	return h.next.OnDisconnect(conn, status)
}

func (h *instrumented) publish(event publisher.SessionEvent) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishSessionEvent(event); err != nil {
		h.logger.Warn("failed to publish session event", "session_id", event.SessionID, "type", event.Type, "error", err)
	}
}
