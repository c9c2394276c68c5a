// Package http implements the chatcast REST API server.
package http

import (
	"encoding/json"

	"github.com/brianly1003/chatcast/internal/domain/events"
	"github.com/brianly1003/chatcast/internal/hub"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status" example:"ok"`
	Time        string `json:"time" example:"2024-01-15T10:30:00Z"`
	Connections int    `json:"connections" example:"12"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error" example:"channel \"x\": invalid channel name"`
	Code  string `json:"code" example:"INVALID_CHANNEL_NAME"`
}

// CreateMessageRequest is the body of POST /api/messages.
type CreateMessageRequest struct {
	Text string `json:"text" validate:"required" example:"hello everyone"`
}

// MessageResponse is returned after a message has been stored.
//
// Live is false when the message was committed but its notification could
// not be queued. Clients will see it on their next list.
type MessageResponse struct {
	Message  events.ChatMessage `json:"message"`
	Live     bool               `json:"live" example:"true"`
	Sequence uint64             `json:"seq,omitempty" example:"42"`
}

// MessagesResponse is returned by GET /api/messages, newest first.
type MessagesResponse struct {
	Messages   []events.ChatMessage `json:"messages"`
	NextBefore int64                `json:"next_before,omitempty" example:"120"`
}

// BroadcastRequest is the body of POST /api/broadcast.
type BroadcastRequest struct {
	Channel string          `json:"channel" validate:"required,max=164" example:"private-conversation.42"`
	Event   string          `json:"event" validate:"required,max=64,printascii" example:"typing"`
	Data    json.RawMessage `json:"data" validate:"required" swaggertype:"object"`
}

// BroadcastResponse reports the sequence assigned to a published event.
type BroadcastResponse struct {
	Channel  string `json:"channel" example:"everyone"`
	Event    string `json:"event" example:"typing"`
	Sequence uint64 `json:"seq" example:"7"`
}

// MemberRequest is the body of POST /api/conversations/{conversation}/members.
type MemberRequest struct {
	Principal string `json:"principal" validate:"required,max=128" example:"17"`
}

// MembersResponse lists the members of a conversation.
type MembersResponse struct {
	Conversation string   `json:"conversation" example:"42"`
	Members      []string `json:"members"`
}

// StatsResponse is returned by GET /api/stats.
type StatsResponse struct {
	UptimeSeconds int64     `json:"uptime_seconds" example:"3600"`
	Hub           hub.Stats `json:"hub"`
}
