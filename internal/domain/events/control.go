package events

import (
	"encoding/json"
	"strings"
)

// Client command names.
const (
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"
	CommandPing        = "ping"
)

// Command is a request sent by a subscriber over its transport.
type Command struct {
	Event   string `json:"event" cbor:"event"`
	Channel string `json:"channel,omitempty" cbor:"channel,omitempty"`
}

// DecodeCommand parses a client command in the given encoding.
func (e Encoding) DecodeCommand(raw []byte) (Command, error) {
	var cmd Command
	var err error
	if e == EncodingCBOR {
		err = cborDec.Unmarshal(raw, &cmd)
	} else {
		err = json.Unmarshal(raw, &cmd)
	}
	cmd.Event = strings.TrimSpace(cmd.Event)
	return cmd, err
}

// ErrorPayload is the data of error and subscription_error replies.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectionPayload is the data of the connection_established reply.
type ConnectionPayload struct {
	ConnectionID string `json:"connection_id"`
	Principal    string `json:"principal"`
}

// ControlFrame builds a reply frame addressed to a single connection.
func ControlFrame(eventType EventType, channel string, data interface{}) Frame {
	f := Frame{Channel: channel, Event: string(eventType)}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			f.Data = raw
		}
	}
	return f
}
