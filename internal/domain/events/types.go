// Package events defines the broadcast event model and its wire frames.
package events

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/brianly1003/chatcast/internal/domain"
)

// EventType represents the type tag of a broadcast event.
type EventType string

const (
	// Chat events
	EventTypeMessageCreated EventType = "message-created"

	// Subscription replies (sent only to the requesting connection)
	EventTypeSubscriptionSucceeded EventType = "subscription_succeeded"
	EventTypeSubscriptionError     EventType = "subscription_error"
	EventTypeUnsubscribed          EventType = "unsubscribed"

	// Connection events
	EventTypeConnectionEstablished EventType = "connection_established"
	EventTypePong                  EventType = "pong"
	EventTypeError                 EventType = "error"
)

// MessageTimeLayout is the layout of ChatMessage.Time (day-month-year-hour-minute-second).
// It is not ISO-8601: existing chat clients parse this dash-separated form,
// so the wire format keeps it. The zone is always UTC.
const MessageTimeLayout = "02-01-2006-15-04-05"

// ChatMessage is the resolved projection of a stored chat message.
type ChatMessage struct {
	ID     int64  `json:"id" cbor:"id"`
	UserID int64  `json:"user_id" cbor:"user_id"`
	Text   string `json:"text" cbor:"text"`
	Time   string `json:"time" cbor:"time"`
}

// NewChatMessage builds a ChatMessage, formatting createdAt with MessageTimeLayout.
func NewChatMessage(id, userID int64, text string, createdAt time.Time) ChatMessage {
	return ChatMessage{
		ID:     id,
		UserID: userID,
		Text:   text,
		Time:   createdAt.UTC().Format(MessageTimeLayout),
	}
}

// BroadcastEvent is one unit of fan-out work. It is immutable once built.
type BroadcastEvent struct {
	channel   string
	eventType EventType
	seq       uint64
	data      json.RawMessage
}

// NewBroadcastEvent creates an event from an already-encoded JSON payload.
func NewBroadcastEvent(channel string, eventType EventType, seq uint64, data json.RawMessage) *BroadcastEvent {
	return &BroadcastEvent{
		channel:   channel,
		eventType: eventType,
		seq:       seq,
		data:      data,
	}
}

// Channel returns the target channel name.
func (e *BroadcastEvent) Channel() string { return e.channel }

// Type returns the event type tag.
func (e *BroadcastEvent) Type() EventType { return e.eventType }

// Sequence returns the channel-scoped sequence number.
func (e *BroadcastEvent) Sequence() uint64 { return e.seq }

// Data returns a copy of the JSON payload.
func (e *BroadcastEvent) Data() json.RawMessage {
	out := make(json.RawMessage, len(e.data))
	copy(out, e.data)
	return out
}

// Frame returns the wire projection of the event.
func (e *BroadcastEvent) Frame() Frame {
	return Frame{
		Channel: e.channel,
		Event:   string(e.eventType),
		Seq:     e.seq,
		Data:    e.data,
	}
}

// Encode serializes the event for the given wire encoding.
func (e *BroadcastEvent) Encode(enc Encoding) ([]byte, error) {
	return enc.EncodeFrame(e.Frame())
}

// EncodePayload converts a caller-supplied payload into JSON.
// Payloads that are nil or cannot be represented as JSON are rejected.
func EncodePayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return nil, domain.NewValidationError("payload", "payload is required")
	}
	if raw, ok := payload.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, domain.NewValidationError("payload", "payload is not valid JSON")
		}
		if string(bytes.TrimSpace(raw)) == "null" {
			return nil, domain.NewValidationError("payload", "payload is required")
		}
		// the event outlives the call, so it must not alias the caller's buffer
		return append(json.RawMessage(nil), raw...), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewValidationError("payload", err.Error())
	}
	if string(data) == "null" {
		return nil, domain.NewValidationError("payload", "payload is required")
	}
	return data, nil
}
