package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	TypeUpdate = "update"
	TypeLog    = "log"
)

// UpdatedMessage is the fixed description carried by every broadcast log envelope.
const UpdatedMessage = "User Updated"

// TimestampLayout is UTC ISO-8601 with millisecond precision, the same shape a
// browser produces from Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ErrDecode is matched by every *DecodeError.
var ErrDecode = errors.New("decode error")

// DecodeError describes a frame that could not be turned into an Envelope.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to decode frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to decode frame: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Envelope is a wire message. Type selects which of the other fields are meaningful.
type Envelope struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// rawEnvelope keeps track of which fields were actually present.
type rawEnvelope struct {
	Type      *string `json:"type"`
	Content   *string `json:"content"`
	Message   *string `json:"message"`
	Timestamp *string `json:"timestamp"`
}

// Update builds an update envelope. An empty timestamp is omitted from the wire.
func Update(content, timestamp string) Envelope {
	return Envelope{Type: TypeUpdate, Content: content, Timestamp: timestamp}
}

// Log builds a log envelope.
func Log(message, content, timestamp string) Envelope {
	return Envelope{Type: TypeLog, Message: message, Content: content, Timestamp: timestamp}
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Decode parses a single frame. Unknown types are returned as-is without
// further validation, known types must carry their required fields.
func Decode(raw []byte) (Envelope, error) {
	var r rawEnvelope
	if err := json.Unmarshal(raw, &r); err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed json", Err: err}
	}
	if r.Type == nil {
		return Envelope{}, &DecodeError{Reason: "missing type"}
	}
	env := Envelope{Type: *r.Type}
	switch env.Type {
	case TypeUpdate:
		if r.Content == nil {
			return Envelope{}, &DecodeError{Reason: "update without content"}
		}
		env.Content = *r.Content
		if r.Timestamp != nil {
			env.Timestamp = *r.Timestamp
		}
	case TypeLog:
		if r.Message == nil || r.Content == nil || r.Timestamp == nil {
			return Envelope{}, &DecodeError{Reason: "log without message, content or timestamp"}
		}
		env.Message, env.Content, env.Timestamp = *r.Message, *r.Content, *r.Timestamp
	}
	return env, nil
}

// Encode renders an envelope as a JSON text frame.
func Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, fmt.Errorf("failed to encode envelope: missing type")
	}
	buf, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return buf, nil
}
