package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Envelope kinds pushed on the per-call event stream.
const (
	EnvelopeEvent  = "event"
	EnvelopeError  = "error"
	EnvelopeStatus = "status"
)

// StreamEnvelope wraps every message on the WebSocket event stream.
// Data is decoded lazily based on Type.
type StreamEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StreamError is a socket-level error pushed by the server. It is advisory:
// receiving one does not end the stream.
type StreamError struct {
	ErrorType    string     `json:"error_type"`
	ErrorMessage string     `json:"error_message"`
	CallID       *uuid.UUID `json:"call_id,omitempty"`
}

func (e StreamError) Error() string {
	return e.ErrorType + ": " + e.ErrorMessage
}
