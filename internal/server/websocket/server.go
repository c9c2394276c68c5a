package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
	"github.com/brianly1003/chatcast/internal/hub"
	"github.com/brianly1003/chatcast/internal/security"
)

const (
	// DefaultWriteWait is time allowed to write a message to the peer.
	DefaultWriteWait = 10 * time.Second

	// DefaultPongWait is time allowed to read the next pong message from the peer.
	DefaultPongWait = 60 * time.Second

	// DefaultPingInterval must be less than DefaultPongWait.
	DefaultPingInterval = (DefaultPongWait * 9) / 10

	// DefaultMaxFrameBytes bounds a single client command.
	DefaultMaxFrameBytes = 4096
)

// Core is the part of the broadcast hub the transport drives.
type Core interface {
	OnConnectionOpened(principal string, enc events.Encoding) (*hub.Connection, error)
	OnConnectionClosed(connectionID string)
	OnSubscribeRequest(ctx context.Context, connectionID, channel string) (domain.Decision, error)
	OnUnsubscribeRequest(connectionID, channel string) error
}

// TokenValidator resolves a bearer token to its principal.
type TokenValidator interface {
	Validate(token string) (*security.TokenPayload, error)
}

// Options configures the WebSocket handler.
type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxFrameBytes  int64
	AllowedOrigins []string
	TrustedProxies []string
}

func (o *Options) applyDefaults() {
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = (o.PongWait * 9) / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
}

// Handler upgrades authenticated requests and attaches them to the hub.
type Handler struct {
	core     Core
	tokens   TokenValidator
	opts     Options
	upgrader websocket.Upgrader
	clientIP *security.ClientIPResolver
}

// NewHandler creates the WebSocket endpoint handler.
func NewHandler(core Core, tokens TokenValidator, opts Options) (*Handler, error) {
	opts.applyDefaults()

	resolver, err := security.NewClientIPResolver(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	origins := security.NewOriginChecker(opts.AllowedOrigins)

	return &Handler{
		core:   core,
		tokens: tokens,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    events.Subprotocols,
			CheckOrigin:     origins.CheckOrigin,
		},
		clientIP: resolver,
	}, nil
}

// ServeHTTP authenticates the request, upgrades it and starts the pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := h.clientIP.ClientIP(r)

	token := tokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	payload, err := h.tokens.Validate(token)
	if err != nil {
		log.Debug().Err(err).Str("client_ip", clientIP).Msg("websocket token rejected")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("client_ip", clientIP).Msg("failed to upgrade connection")
		return
	}

	enc := events.EncodingForSubprotocol(conn.Subprotocol())
	hc, err := h.core.OnConnectionOpened(payload.Principal, enc)
	if err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, domain.ErrResourceExhausted) {
			code = websocket.CloseTryAgainLater
		}
		log.Warn().Err(err).Str("principal", payload.Principal).Msg("connection refused")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, domain.ErrorCode(err)),
			time.Now().Add(h.opts.WriteWait))
		_ = conn.Close()
		return
	}

	client := newClient(conn, hc, h.core, h.opts)
	client.reply(events.EventTypeConnectionEstablished, "", events.ConnectionPayload{
		ConnectionID: hc.ID(),
		Principal:    hc.Principal(),
	})

	log.Info().
		Str("connection_id", hc.ID()).
		Str("principal", hc.Principal()).
		Str("encoding", string(enc)).
		Str("client_ip", clientIP).
		Msg("client connected")

	client.Start()
}

// tokenFromRequest reads the token from the Authorization header or the
// "token" query parameter (browsers cannot set headers on upgrades).
func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
