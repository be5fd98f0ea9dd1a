package messenger

import (
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-connect"
)

// MessageType is the closed set of cross-window result messages.
type MessageType string

const (
	TypeAuthSuccess MessageType = "AUTH_SUCCESS"
	TypeAuthError   MessageType = "AUTH_ERROR"
)

// Message carries an authorization outcome from the callback window to
// its opener. Reason is only set for TypeAuthError. A success always
// names the attempt state; an error may omit it when the state could not
// be recovered.
type Message struct {
	Type       MessageType `json:"type"`
	PlatformID string      `json:"platformId"`
	State      string      `json:"state,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// Success builds an AUTH_SUCCESS message.
func Success(platformID, state string) Message {
	return Message{Type: TypeAuthSuccess, PlatformID: platformID, State: state}
}

// Failure builds an AUTH_ERROR message.
func Failure(platformID, state, reason string) Message {
	if reason == "" {
		reason = "unknown_error"
	}
	return Message{Type: TypeAuthError, PlatformID: platformID, State: state, Reason: reason}
}

// Validate checks the message against the closed union.
func (m Message) Validate() error {
	if m.PlatformID == "" {
		return fmt.Errorf("%w: missing platformId", connect.ErrInvalidMessage)
	}
	switch m.Type {
	case TypeAuthSuccess:
		if m.State == "" {
			return fmt.Errorf("%w: success without state", connect.ErrInvalidMessage)
		}
		if m.Reason != "" {
			return fmt.Errorf("%w: success carries a reason", connect.ErrInvalidMessage)
		}
	case TypeAuthError:
		if m.Reason == "" {
			return fmt.Errorf("%w: error without reason", connect.ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", connect.ErrInvalidMessage, m.Type)
	}
	return nil
}

// Succeeded reports whether m is an AUTH_SUCCESS.
func (m Message) Succeeded() bool {
	return m.Type == TypeAuthSuccess
}

// Key identifies a message for duplicate suppression.
func (m Message) Key() string {
	return string(m.Type) + "|" + m.PlatformID + "|" + m.State
}

// Encode serializes a valid message.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses and validates a message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, connect.WrapError(connect.ErrInvalidMessage, err, nil)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
