// Package protocol defines the messages exchanged between the generator page
// and the server over the live socket.
package protocol

import (
	"time"
)

// MessageType identifies the type of protocol message.
type MessageType uint8

const (
	// MsgJoin opens the live session for a page.
	MsgJoin MessageType = iota
	// MsgLeave closes it.
	MsgLeave
	// MsgEvent carries a user interaction.
	MsgEvent
	// MsgReply answers a message that carried a Ref. Both sides send replies.
	MsgReply
	// MsgPush is a server-initiated instruction (render, download, notify).
	MsgPush
	// MsgError reports a protocol failure.
	MsgError
	// MsgHeartbeat keeps the connection alive.
	MsgHeartbeat
)

// String returns a string representation of the message type.
func (mt MessageType) String() string {
	switch mt {
	case MsgJoin:
		return "join"
	case MsgLeave:
		return "leave"
	case MsgEvent:
		return "event"
	case MsgReply:
		return "reply"
	case MsgPush:
		return "push"
	case MsgError:
		return "error"
	case MsgHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Reply statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Message represents a protocol message exchanged between client and server.
type Message struct {
	// Type identifies what kind of message this is
	Type MessageType `json:"t" msgpack:"t"`

	// Ref correlates a request with its reply
	Ref string `json:"ref,omitempty" msgpack:"ref,omitempty"`

	// Topic is the live session this message belongs to (e.g. "lv:abc")
	Topic string `json:"topic" msgpack:"topic"`

	// Event is the specific event name (e.g. "set", "export", "render")
	Event string `json:"event,omitempty" msgpack:"event,omitempty"`

	Payload map[string]any `json:"payload,omitempty" msgpack:"payload,omitempty"`

	// Timestamp in unix milliseconds
	Timestamp int64 `json:"ts,omitempty" msgpack:"ts,omitempty"`
}

// NewMessage creates a new message with the given parameters.
func NewMessage(msgType MessageType, topic, event string) *Message {
	return &Message{
		Type:      msgType,
		Topic:     topic,
		Event:     event,
		Payload:   make(map[string]any),
		Timestamp: time.Now().UnixMilli(),
	}
}

// WithRef adds a reference ID to the message.
func (m *Message) WithRef(ref string) *Message {
	m.Ref = ref
	return m
}

// WithPayload sets the message payload.
func (m *Message) WithPayload(payload map[string]any) *Message {
	m.Payload = payload
	return m
}

// SetPayloadValue sets a single value in the payload.
func (m *Message) SetPayloadValue(key string, value any) *Message {
	if m.Payload == nil {
		m.Payload = make(map[string]any)
	}
	m.Payload[key] = value
	return m
}

// GetPayloadString retrieves a string value from the payload.
func (m *Message) GetPayloadString(key string) string {
	if v, ok := m.Payload[key].(string); ok {
		return v
	}
	return ""
}

// GetPayloadFloat retrieves a numeric value from the payload. JSON decodes
// numbers as float64 while msgpack keeps the integer width, so both are
// accepted.
func (m *Message) GetPayloadFloat(key string) (float64, bool) {
	return toFloat(m.Payload[key])
}

// GetPayloadBool retrieves a bool value from the payload.
func (m *Message) GetPayloadBool(key string) bool {
	if v, ok := m.Payload[key].(bool); ok {
		return v
	}
	return false
}

// GetPayloadMap retrieves a nested object from the payload.
func (m *Message) GetPayloadMap(key string) map[string]any {
	if v, ok := m.Payload[key].(map[string]any); ok {
		return v
	}
	return nil
}

// Status returns the reply status of a MsgReply.
func (m *Message) Status() string {
	return m.GetPayloadString("status")
}

// Response returns the response object of a MsgReply.
func (m *Message) Response() map[string]any {
	return m.GetPayloadMap("response")
}

// IsReply returns true if this message is a reply.
func (m *Message) IsReply() bool {
	return m.Type == MsgReply
}

// Clone creates a copy of the message.
func (m *Message) Clone() *Message {
	clone := &Message{
		Type:      m.Type,
		Ref:       m.Ref,
		Topic:     m.Topic,
		Event:     m.Event,
		Timestamp: m.Timestamp,
	}
	if m.Payload != nil {
		clone.Payload = make(map[string]any, len(m.Payload))
		for k, v := range m.Payload {
			clone.Payload[k] = v
		}
	}
	return clone
}

// ReplyMessage creates a reply message.
func ReplyMessage(ref, topic string, status string, response map[string]any) *Message {
	if response == nil {
		response = map[string]any{}
	}
	return NewMessage(MsgReply, topic, "reply").
		WithRef(ref).
		WithPayload(map[string]any{
			"status":   status,
			"response": response,
		})
}

// OkReply creates a successful reply message.
func OkReply(ref, topic string, response map[string]any) *Message {
	return ReplyMessage(ref, topic, StatusOK, response)
}

// ErrorReply creates an error reply message.
func ErrorReply(ref, topic string, reason string) *Message {
	return ReplyMessage(ref, topic, StatusError, map[string]any{"reason": reason})
}

// PushMessage creates a server push.
func PushMessage(topic, event string, payload map[string]any) *Message {
	return NewMessage(MsgPush, topic, event).WithPayload(payload)
}

// EventMessage creates an event message.
func EventMessage(topic, event string, payload map[string]any) *Message {
	return NewMessage(MsgEvent, topic, event).WithPayload(payload)
}

// JoinMessage creates a join message.
func JoinMessage(topic string, params map[string]any) *Message {
	return NewMessage(MsgJoin, topic, "join").WithPayload(params)
}

// ErrorMessage creates a protocol error message.
func ErrorMessage(ref, topic, reason string) *Message {
	return NewMessage(MsgError, topic, "error").
		WithRef(ref).
		WithPayload(map[string]any{"reason": reason})
}

// HeartbeatMessage creates a heartbeat message.
func HeartbeatMessage() *Message {
	return NewMessage(MsgHeartbeat, "live", "heartbeat")
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
