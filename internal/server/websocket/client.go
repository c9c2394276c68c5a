// Package websocket provides the WebSocket transport between chatcast and
// its subscribers (mobile apps, browsers, other services).
//
// Architecture:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                      Broadcast Hub                          │
//	│  (registry, channels, dispatcher; one Outbound per client)  │
//	└─────────────────────────────┬───────────────────────────────┘
//	                              │
//	          ┌───────────────────┼───────────────────┐
//	          │                   │                   │
//	          ▼                   ▼                   ▼
//	    ┌──────────┐        ┌──────────┐        ┌──────────┐
//	    │ Client 1 │        │ Client 2 │        │ Client N │
//	    │ (json)   │        │ (cbor)   │        │ (...)    │
//	    └──────────┘        └──────────┘        └──────────┘
//
// Each Client manages:
//   - A goroutine for reading commands (readPump)
//   - A goroutine for writing frames from its Outbound queue (writePump)
//   - Automatic ping/pong for connection health monitoring
//
// Message Flow:
//   - Incoming: WebSocket → readPump → subscribe/unsubscribe/ping → Hub
//   - Outgoing: Dispatcher → Outbound queue → writePump → WebSocket
//
// Only writePump writes to the socket. Command replies are queued on the
// same Outbound as broadcast frames.
package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
	"github.com/brianly1003/chatcast/internal/hub"
)

// Client is one upgraded WebSocket bound to a hub connection.
type Client struct {
	conn   *websocket.Conn
	hc     *hub.Connection
	core   Core
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(conn *websocket.Conn, hc *hub.Connection, core Core, opts Options) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:   conn,
		hc:     hc,
		core:   core,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the hub connection ID.
func (c *Client) ID() string {
	return c.hc.ID()
}

// Start starts the client's read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// reply queues a control frame for this client only. A full queue drops the
// reply; the client is already lagging and the reaper will judge it.
func (c *Client) reply(eventType events.EventType, channel string, data interface{}) {
	frame, err := c.hc.Encoding().EncodeFrame(events.ControlFrame(eventType, channel, data))
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID()).Msg("failed to encode reply")
		return
	}
	if err := c.hc.Outbound().Enqueue(frame); err != nil && !errors.Is(err, domain.ErrTransportClosed) {
		log.Warn().Err(err).
			Str("connection_id", c.ID()).
			Str("event", string(eventType)).
			Msg("reply dropped")
	}
}

func (c *Client) replyError(eventType events.EventType, channel string, err error) {
	c.reply(eventType, channel, events.ErrorPayload{
		Code:    domain.ErrorCode(err),
		Message: err.Error(),
	})
}

// handleCommand processes one client command.
func (c *Client) handleCommand(raw []byte) {
	cmd, err := c.hc.Encoding().DecodeCommand(raw)
	if err != nil {
		c.reply(events.EventTypeError, "", events.ErrorPayload{
			Code:    domain.ErrCodeInvalidCommand,
			Message: "malformed command",
		})
		return
	}

	switch cmd.Event {
	case events.CommandSubscribe:
		decision, err := c.core.OnSubscribeRequest(c.ctx, c.ID(), cmd.Channel)
		if err != nil {
			c.replyError(events.EventTypeSubscriptionError, cmd.Channel, err)
			return
		}
		if !decision.Authorized() {
			c.replyError(events.EventTypeSubscriptionError, cmd.Channel,
				domain.NewChannelError("subscribe", cmd.Channel, domain.ErrUnauthorized))
			return
		}
		c.reply(events.EventTypeSubscriptionSucceeded, cmd.Channel, nil)

	case events.CommandUnsubscribe:
		if err := c.core.OnUnsubscribeRequest(c.ID(), cmd.Channel); err != nil {
			c.replyError(events.EventTypeError, cmd.Channel, err)
			return
		}
		c.reply(events.EventTypeUnsubscribed, cmd.Channel, nil)

	case events.CommandPing:
		c.reply(events.EventTypePong, "", nil)

	default:
		c.reply(events.EventTypeError, "", events.ErrorPayload{
			Code:    domain.ErrCodeInvalidCommand,
			Message: "unknown command: " + cmd.Event,
		})
	}
}

// readPump reads commands until the socket fails, then deregisters.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.core.OnConnectionClosed(c.ID())
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.hc.Touch(time.Now())
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID()).Msg("websocket read error")
			}
			return
		}

		c.hc.Touch(time.Now())
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		c.handleCommand(message)
	}
}

// writePump drains the Outbound queue onto the socket. Each frame is sent as
// its own WebSocket message.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	out := c.hc.Outbound()
	messageType := websocket.TextMessage
	if c.hc.Encoding().Binary() {
		messageType = websocket.BinaryMessage
	}

	defer func() {
		ticker.Stop()
		// Send close frame with deadline to prevent blocking on laggy connections
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-out.Done():
			return

		case frame := <-out.Frames():
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(messageType, frame); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID()).Msg("write error")
				c.core.OnConnectionClosed(c.ID())
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID()).Msg("ping error")
				c.core.OnConnectionClosed(c.ID())
				return
			}
		}
	}
}
