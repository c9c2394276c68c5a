package ports

import (
	"context"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
)

// FrameWriter hands serialized frames to a connection's transport.
type FrameWriter interface {
	// WriteFrame queues frame for delivery on the connection.
	// Returns domain.ErrBackpressure if the connection's outbound queue is full
	// and domain.ErrTransportClosed if the connection is gone.
	WriteFrame(connectionID string, frame []byte) error
}

// SubscriptionAuthorizer decides whether a principal may join a channel.
type SubscriptionAuthorizer interface {
	// Classify parses a channel name and returns its access policy.
	// Returns domain.ErrInvalidChannelName for names matching no convention.
	Classify(channel string) (domain.ChannelPolicy, error)

	// Authorize returns the decision for principal joining channel.
	// Only malformed channel names produce an error.
	Authorize(ctx context.Context, principal, channel string) (domain.Decision, error)
}

// MembershipChecker answers whether a principal belongs to a scoped target,
// e.g. a conversation. Implemented outside the broadcast core.
type MembershipChecker interface {
	IsMember(ctx context.Context, principal, scope, target string) (bool, error)
}

// MessagePublisher is the inbound port of the message-persistence path.
type MessagePublisher interface {
	// OnMessageStored publishes a change notification for a message that has
	// already been committed. It never touches the store.
	OnMessageStored(ctx context.Context, msg events.ChatMessage) (*events.BroadcastEvent, error)

	// Publish sends an arbitrary pre-resolved payload to a channel.
	Publish(ctx context.Context, channel string, eventType events.EventType, payload interface{}) (*events.BroadcastEvent, error)
}
