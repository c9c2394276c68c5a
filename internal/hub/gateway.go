package hub

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
	"github.com/brianly1003/chatcast/internal/domain/ports"
)

// Gateway is the publish entry point. It validates the request, assigns the
// channel's next sequence number and hands the event to the dispatcher.
// It never waits for delivery.
type Gateway struct {
	registry   *Registry
	dispatcher *Dispatcher
	authorizer ports.SubscriptionAuthorizer
	now        func() time.Time
}

// NewGateway creates a gateway publishing into registry's channels.
func NewGateway(registry *Registry, dispatcher *Dispatcher, authorizer ports.SubscriptionAuthorizer) *Gateway {
	return &Gateway{
		registry:   registry,
		dispatcher: dispatcher,
		authorizer: authorizer,
		now:        registry.now,
	}
}

// Publish assigns the next sequence on channel and queues the event for
// fan-out. On any error no sequence number is consumed.
func (g *Gateway) Publish(ctx context.Context, channel string, eventType events.EventType, payload interface{}) (*events.BroadcastEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	policy, err := g.authorizer.Classify(channel)
	if err != nil {
		return nil, domain.NewChannelError("publish", channel, err)
	}
	if strings.TrimSpace(string(eventType)) == "" {
		return nil, domain.NewChannelError("publish", channel, domain.NewValidationError("event", "event type is required"))
	}

	data, err := events.EncodePayload(payload)
	if err != nil {
		return nil, domain.NewChannelError("publish", channel, err)
	}

	for {
		ch := g.registry.acquireChannel(channel, policy)

		var ev *events.BroadcastEvent
		_, err := ch.publish(g.now(), func(seq uint64) error {
			ev = events.NewBroadcastEvent(channel, eventType, seq, data)
			return g.dispatcher.Submit(ch, ev)
		})
		if errors.Is(err, errChannelRetired) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("channel", channel).Str("event", string(eventType)).Msg("publish rejected")
			return nil, domain.NewChannelError("publish", channel, err)
		}

		log.Debug().
			Str("channel", channel).
			Str("event", string(eventType)).
			Uint64("seq", ev.Sequence()).
			Msg("event published")
		return ev, nil
	}
}
