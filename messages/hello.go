package messages

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// DefaultMessage is the reply sent for every greeting.
const DefaultMessage = "The response"

// ErrMalformedRequest is returned when a payload is not a JSON object of the
// expected shape.
var ErrMalformedRequest = errors.New("malformed request")

// HelloRequest is the inbound greeting. Name is optional.
type HelloRequest struct {
	Name string `json:"name,omitempty"`
}

// HelloResponse is the reply written back to the client.
type HelloResponse struct {
	Message string `json:"message"`
}

// DecodeHelloRequest parses a text payload. Unknown fields are ignored and
// a JSON null decodes to an empty request; anything else that is not a JSON
// object is malformed.
func DecodeHelloRequest(payload []byte) (HelloRequest, error) {
	var req HelloRequest

	trimmed := bytes.TrimSpace(payload)
	if bytes.Equal(trimmed, []byte("null")) {
		return req, nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return req, errors.Wrap(ErrMalformedRequest, "payload is not a JSON object")
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return req, errors.Wrapf(ErrMalformedRequest, "decode hello request: %v", err)
	}
	return req, nil
}

// NewHelloResponse builds the reply, falling back to DefaultMessage.
func NewHelloResponse(message string) HelloResponse {
	if message == "" {
		message = DefaultMessage
	}
	return HelloResponse{Message: message}
}

// Encode serializes the response as a single JSON document.
func (r HelloResponse) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "encode hello response")
	}
	return data, nil
}
