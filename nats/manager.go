package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/emaforlin/ws-greeting-server/publisher"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Manager owns the NATS connection used to publish session events.
type Manager struct {
	conn          *nats.Conn
	subjectPrefix string
	logger        *slog.Logger
}

// NewManager connects to natsURL. Events are published under subjectPrefix.
func NewManager(natsURL, subjectPrefix string, timeout time.Duration, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name("WebSocket-Greeting-Server"),
		nats.Timeout(timeout),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(5),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to NATS")
	}

	logger.Info("connected to NATS", "url", natsURL)

	return &Manager{
		conn:          conn,
		subjectPrefix: subjectPrefix,
		logger:        logger,
	}, nil
}

// Subject returns the subject an event of the given type is published on.
func Subject(prefix string, eventType publisher.EventType) string {
	return fmt.Sprintf("%s.%s", prefix, eventType)
}

// PublishSessionEvent implements publisher.Publisher.
func (m *Manager) PublishSessionEvent(event publisher.SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	subject := Subject(m.subjectPrefix, event.Type)
	if err := m.conn.Publish(subject, data); err != nil {
		return errors.Wrapf(err, "failed to publish to NATS subject %s", subject)
	}

	m.logger.Debug("published session event", "subject", subject, "session_id", event.SessionID)
	return nil
}

// Close flushes pending events and closes the NATS connection.
func (m *Manager) Close() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Drain(); err != nil {
		m.logger.Warn("NATS drain failed", "error", err)
		m.conn.Close()
	}
	m.logger.Info("NATS connection closed")
}

// IsConnected checks if the NATS connection is still active
func (m *Manager) IsConnected() bool {
	return m.conn != nil && m.conn.IsConnected()
}
