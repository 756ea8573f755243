package websocket

import (
	"log/slog"

	"github.com/emaforlin/ws-greeting-server/messages"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// EchoHandler answers every greeting with the same fixed response.
type EchoHandler struct {
	logger  *slog.Logger
	message string
}

// NewEchoHandler creates a handler replying with message, or
// messages.DefaultMessage when message is empty.
func NewEchoHandler(logger *slog.Logger, message string) *EchoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoHandler{
		logger:  logger,
		message: messages.NewHelloResponse(message).Message,
	}
}

// OnConnect is called when a new connection is established
func (h *EchoHandler) OnConnect(conn *Connection) error {
	h.logger.Info("connection opened", "session_id", conn.ID(), "remote_addr", conn.RemoteAddr())
	return nil
}

// HandleMessage decodes the greeting and replies with one response frame.
// Malformed payloads close the session with 1007.
func (h *EchoHandler) HandleMessage(conn *Connection, message Message) error {
	h.logger.Info("message received", "session_id", conn.ID(), "payload", string(message.Data))

	req, err := messages.DecodeHelloRequest(message.Data)
	if err != nil {
		return &ProtocolError{
			Code:   websocket.CloseInvalidFramePayloadData,
			Reason: messages.ErrMalformedRequest.Error(),
			Err:    err,
		}
	}
	h.logger.Debug("hello request decoded", "session_id", conn.ID(), "name", req.Name)

	data, err := messages.NewHelloResponse(h.message).Encode()
	if err != nil {
		return err
	}
	return errors.Wrap(conn.SendText(data), "send hello response")
}

// OnDisconnect is called when a connection is closed
func (h *EchoHandler) OnDisconnect(conn *Connection, status CloseStatus) error {
	h.logger.Info("connection closed", "session_id", conn.ID(), "code", status.Code, "reason", status.Reason)
	return nil
}
