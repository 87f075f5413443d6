// Package protocol defines the JSON messages exchanged on the hub push stream.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies the type of stream message.
type MessageType string

const (
	// Client -> hub
	MsgSubscribe   MessageType = "subscribe"
	MsgUnsubscribe MessageType = "unsubscribe"

	// Hub -> client
	MsgValue MessageType = "value"
	MsgError MessageType = "error"
)

// Error codes carried by MsgError.
const (
	CodeInvalidPath = "invalid-path"
	CodeDenied      = "denied"
	CodeInternal    = "internal"
	CodeBadMessage  = "bad-message"
)

// Message is a single stream frame.
type Message struct {
	Type        MessageType     `json:"type"`
	Path        string          `json:"path,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Code        string          `json:"code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// ValueMessage builds a value push. A nil value is sent as JSON null.
func ValueMessage(path string, value json.RawMessage) *Message {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return &Message{Type: MsgValue, Path: path, Value: value}
}

// ErrorMessage builds a per-path error.
func ErrorMessage(path, code, description string) *Message {
	return &Message{Type: MsgError, Path: path, Code: code, Description: description}
}

// Encode serializes the message.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage decodes and validates a frame.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	switch msg.Type {
	case MsgSubscribe, MsgUnsubscribe, MsgValue, MsgError:
	default:
		return nil, fmt.Errorf("protocol: unknown message type %q", msg.Type)
	}
	if msg.Path == "" && msg.Type != MsgError {
		return nil, fmt.Errorf("protocol: %s without path", msg.Type)
	}
	return &msg, nil
}

// IsNull reports whether a pushed value is absent or JSON null.
func (m *Message) IsNull() bool {
	v := strings.TrimSpace(string(m.Value))
	return v == "" || v == "null"
}

// RemoteError is the error form of a MsgError frame.
type RemoteError struct {
	Path        string
	Code        string
	Description string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Description, e.Code)
}

// Err converts an error frame into a *RemoteError.
func (m *Message) Err() error {
	if m.Type != MsgError {
		return nil
	}
	return &RemoteError{Path: m.Path, Code: m.Code, Description: m.Description}
}

// ErrInvalidPath reports a path that cannot be stored.
var ErrInvalidPath = errors.New("invalid path")

// ValidatePath checks that every slash-separated segment is non-empty and
// free of the characters the store reserves.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
		if strings.ContainsAny(seg, ".#$[]") {
			return fmt.Errorf("%w: reserved character in %q", ErrInvalidPath, path)
		}
	}
	return nil
}
