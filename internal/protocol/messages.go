// Package protocol defines the JSON frames exchanged over the hub connection.
// Every frame carries a "type" discriminator; each kind has its own struct.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server control frames.
const (
	TypeJoinChat           = "joinChat"
	TypeLeaveChat          = "leaveChat"
	TypeJoinNotifications  = "joinNotifications"
	TypeLeaveNotifications = "leaveNotifications"
	TypePing               = "ping"
)

// Server -> Client event frames.
const (
	TypeConnectionReady = "connection:ready"
	TypeChatMessage     = "chat:message"
	TypeNotificationNew = "notification:new"
	TypeError           = "error"
	TypePong            = "pong"
)

// ErrUnknownType is returned for a well-formed frame whose type this server
// does not handle. The hub ignores such frames.
var ErrUnknownType = errors.New("protocol: unknown message type")

// ---------------------------------------------------------------------------
// Envelope is decoded first to read the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full frame in Raw and extracts only "type".
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinChatMsg subscribes the connection to chat:<ChatID>.
type JoinChatMsg struct {
	ChatID string `json:"chatId"`
}

// LeaveChatMsg unsubscribes the connection from chat:<ChatID>.
type LeaveChatMsg struct {
	ChatID string `json:"chatId"`
}

// JoinNotificationsMsg subscribes the connection to its user's notify room.
type JoinNotificationsMsg struct{}

// LeaveNotificationsMsg reverses JoinNotificationsMsg.
type LeaveNotificationsMsg struct{}

// PingMsg is an application-level keepalive.
type PingMsg struct{}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// Event is the outbound frame shape. Data is omitted for bare events such as
// connection:ready and pong.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ChatMessageData is the payload of a chat:message event.
type ChatMessageData struct {
	Message any    `json:"message"`
	ChatID  string `json:"chatId"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw frame bytes into a typed control message.
// Unknown types return ErrUnknownType together with the type string.
func ParseClientMessage(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg any
		err error
	)

	switch env.Type {
	case TypeJoinChat:
		var m JoinChatMsg
		err = json.Unmarshal(env.Raw, &m)
		if err == nil && m.ChatID == "" {
			err = errors.New("missing chatId")
		}
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		if err == nil && m.ChatID == "" {
			err = errors.New("missing chatId")
		}
		msg = m
	case TypeJoinNotifications:
		msg = JoinNotificationsMsg{}
	case TypeLeaveNotifications:
		msg = LeaveNotificationsMsg{}
	case TypePing:
		msg = PingMsg{}
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewEvent encodes an outbound event frame.
func NewEvent(eventType string, data any) ([]byte, error) {
	out, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q event: %w", eventType, err)
	}
	return out, nil
}

// NewChatMessage encodes a chat:message event.
func NewChatMessage(chatID string, message any) ([]byte, error) {
	return NewEvent(TypeChatMessage, ChatMessageData{Message: message, ChatID: chatID})
}

// NewNotification encodes a notification:new event.
func NewNotification(notification any) ([]byte, error) {
	return NewEvent(TypeNotificationNew, notification)
}

// NewError encodes an error event.
func NewError(code, message string) ([]byte, error) {
	return NewEvent(TypeError, ErrorData{Code: code, Message: message})
}
