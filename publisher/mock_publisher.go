package publisher

import (
	"log/slog"
	"sync"
)

// LogPublisher only logs events. It is used when no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

// Close implements Publisher.
func (p *LogPublisher) Close() {}

// PublishSessionEvent implements Publisher.
func (p *LogPublisher) PublishSessionEvent(event SessionEvent) error {
	if p.Logger != nil {
		p.Logger.Debug("session event", "session_id", event.SessionID, "type", event.Type)
	}
	return nil
}

// MockEventPublisher records events in memory.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []SessionEvent
	Err    error
}

// Close implements Publisher.
func (m *MockEventPublisher) Close() {}

// PublishSessionEvent implements Publisher.
func (m *MockEventPublisher) PublishSessionEvent(event SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.Err
}

// Events returns a copy of everything published so far.
func (m *MockEventPublisher) Events() []SessionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SessionEvent(nil), m.events...)
}
