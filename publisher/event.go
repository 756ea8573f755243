package publisher

import "time"

// EventType names a session lifecycle transition.
type EventType string

const (
	SessionOpened  EventType = "opened"
	SessionMessage EventType = "message"
	SessionClosed  EventType = "closed"
)

// SessionEvent is published for every lifecycle transition of a WebSocket session.
type SessionEvent struct {
	SessionID  string    `json:"session_id"`
	Type       EventType `json:"type"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	CloseCode  int       `json:"close_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  int64     `json:"timestamp"`
}

// NewSessionEvent stamps an event with the current time in milliseconds.
func NewSessionEvent(sessionID string, eventType EventType) SessionEvent {
	return SessionEvent{
		SessionID: sessionID,
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
	}
}
