// Package hub implements the chatcast broadcast core: the connection
// registry, channels, the publish gateway, the delivery dispatcher and the
// idle reaper.
package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
	"github.com/brianly1003/chatcast/internal/domain/ports"
	chsync "github.com/brianly1003/chatcast/internal/sync"
)

const (
	DefaultWorkers          = 4
	DefaultIntakeCapacity   = 1024
	DefaultOutboundCapacity = 64
	DefaultReapInterval     = 30 * time.Second

	// DefaultChannel receives notifications for stored messages.
	DefaultChannel = "everyone"
)

// Options configures a Hub.
type Options struct {
	MaxConnections   int
	OutboundCapacity int
	Workers          int
	IntakeCapacity   int
	ReapInterval     time.Duration
	Limits           ReaperLimits

	// MessageChannel is where OnMessageStored publishes. Defaults to DefaultChannel.
	MessageChannel string

	Now func() time.Time
}

var (
	_ ports.MessagePublisher = (*Hub)(nil)
	_ ports.FrameWriter      = (*Registry)(nil)
)

// Hub wires the registry, gateway, dispatcher and reaper together and
// exposes the inbound operations used by the transport and persistence paths.
// Each Hub is fully independent; tests may run several side by side.
type Hub struct {
	registry   *Registry
	dispatcher *Dispatcher
	gateway    *Gateway
	reaper     *Reaper
	authorizer ports.SubscriptionAuthorizer

	messageChannel string

	mu      chsync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped Hub.
func New(authorizer ports.SubscriptionAuthorizer, opts Options) *Hub {
	if opts.MessageChannel == "" {
		opts.MessageChannel = DefaultChannel
	}

	registry := NewRegistry(RegistryOptions{
		MaxConnections:   opts.MaxConnections,
		OutboundCapacity: opts.OutboundCapacity,
		Now:              opts.Now,
	})
	dispatcher := NewDispatcher(registry, DispatcherOptions{
		Workers:        opts.Workers,
		IntakeCapacity: opts.IntakeCapacity,
	})

	return &Hub{
		registry:       registry,
		dispatcher:     dispatcher,
		gateway:        NewGateway(registry, dispatcher, authorizer),
		reaper:         NewReaper(registry, opts.ReapInterval, opts.Limits),
		authorizer:     authorizer,
		messageChannel: opts.MessageChannel,
	}
}

// Start launches the dispatcher workers and the reaper loop.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return nil
	}
	h.running = true

	h.dispatcher.Start()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		h.reaper.Run(ctx)
	}(h.done)

	log.Debug().Msg("broadcast hub started")
	return nil
}

// Stop stops the reaper, flushes the dispatcher and closes every connection.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	cancel()
	<-done
	h.dispatcher.Stop()

	for _, conn := range h.registry.Connections() {
		h.registry.Deregister(conn.ID())
	}

	log.Debug().Msg("broadcast hub stopped")
	return nil
}

// IsRunning returns true if the hub is running.
func (h *Hub) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// OnConnectionOpened registers a connection for an authenticated principal.
func (h *Hub) OnConnectionOpened(principal string, enc events.Encoding) (*Connection, error) {
	return h.registry.Register(principal, enc)
}

// OnConnectionClosed deregisters a connection. Safe to call more than once.
func (h *Hub) OnConnectionClosed(connectionID string) {
	h.registry.Deregister(connectionID)
}

// OnSubscribeRequest authorizes and joins connectionID to channel.
// A denial is reported as DecisionDenied with a nil error; malformed names
// and unknown connections are errors.
func (h *Hub) OnSubscribeRequest(ctx context.Context, connectionID, channel string) (domain.Decision, error) {
	conn, ok := h.registry.Connection(connectionID)
	if !ok {
		return domain.DecisionDenied, domain.NewChannelError("subscribe", channel,
			fmt.Errorf("connection %s: %w", connectionID, domain.ErrNotFound))
	}

	policy, err := h.authorizer.Classify(channel)
	if err != nil {
		return domain.DecisionDenied, domain.NewChannelError("subscribe", channel, err)
	}

	decision, err := h.authorizer.Authorize(ctx, conn.Principal(), channel)
	if err != nil {
		return domain.DecisionDenied, domain.NewChannelError("subscribe", channel, err)
	}
	if !decision.Authorized() {
		log.Debug().
			Str("connection_id", connectionID).
			Str("principal", conn.Principal()).
			Str("channel", channel).
			Msg("subscription denied")
		return domain.DecisionDenied, nil
	}

	if err := h.registry.Authorize(connectionID, channel, policy); err != nil {
		return domain.DecisionDenied, err
	}
	if err := h.registry.Join(connectionID, channel); err != nil {
		return domain.DecisionDenied, err
	}

	log.Debug().
		Str("connection_id", connectionID).
		Str("channel", channel).
		Str("policy", string(policy)).
		Msg("subscription succeeded")
	return domain.DecisionAuthorized, nil
}

// OnUnsubscribeRequest removes connectionID from channel.
func (h *Hub) OnUnsubscribeRequest(connectionID, channel string) error {
	return h.registry.Leave(connectionID, channel)
}

// OnMessageStored publishes a message-created event for an already
// committed chat message.
func (h *Hub) OnMessageStored(ctx context.Context, msg events.ChatMessage) (*events.BroadcastEvent, error) {
	return h.gateway.Publish(ctx, h.messageChannel, events.EventTypeMessageCreated, msg)
}

// Publish sends an already resolved payload to channel.
func (h *Hub) Publish(ctx context.Context, channel string, eventType events.EventType, payload interface{}) (*events.BroadcastEvent, error) {
	return h.gateway.Publish(ctx, channel, eventType, payload)
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Reaper returns the hub's reaper, e.g. to update limits on config reload.
func (h *Hub) Reaper() *Reaper {
	return h.reaper
}

// Stats is a snapshot of hub counters.
type Stats struct {
	Registry   RegistryStats   `json:"registry"`
	Dispatcher DispatcherStats `json:"dispatcher"`
	Evicted    uint64          `json:"evicted"`
	Collected  uint64          `json:"channels_collected"`
	Channels   []ChannelInfo   `json:"channels"`
}

// Stats returns current hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Registry:   h.registry.Stats(),
		Dispatcher: h.dispatcher.Stats(),
		Evicted:    h.reaper.Evicted(),
		Collected:  h.reaper.Collected(),
		Channels:   h.registry.Channels(),
	}
}
