package hub

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
	chsync "github.com/brianly1003/chatcast/internal/sync"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// MaxConnections caps live connections. Zero means unlimited.
	MaxConnections int

	// OutboundCapacity is the per-connection outbound queue size.
	OutboundCapacity int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Registry tracks live connections and channel memberships.
// Lock order is Connection.mu -> Registry.chanMu -> Channel.mu.
type Registry struct {
	maxConnections   int
	outboundCapacity int
	now              func() time.Time

	connMu chsync.RWMutex
	conns  map[string]*Connection

	chanMu   chsync.RWMutex
	channels map[string]*Channel
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.OutboundCapacity <= 0 {
		opts.OutboundCapacity = DefaultOutboundCapacity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		maxConnections:   opts.MaxConnections,
		outboundCapacity: opts.OutboundCapacity,
		now:              opts.Now,
		conns:            make(map[string]*Connection),
		channels:         make(map[string]*Channel),
	}
}

// Register creates a connection for principal. The caller must have
// authenticated principal already; an empty principal is rejected with
// domain.ErrUnauthorized.
// Returns domain.ErrResourceExhausted when the registry is full.
func (r *Registry) Register(principal string, enc events.Encoding) (*Connection, error) {
	if principal == "" {
		return nil, fmt.Errorf("register: %w", domain.ErrUnauthorized)
	}
	if enc == "" {
		enc = events.EncodingJSON
	}

	r.connMu.Lock()
	defer r.connMu.Unlock()

	if r.maxConnections > 0 && len(r.conns) >= r.maxConnections {
		return nil, fmt.Errorf("register: %d connections: %w", len(r.conns), domain.ErrResourceExhausted)
	}

	conn := newConnection(uuid.NewString(), principal, enc, r.outboundCapacity, r.now())
	r.conns[conn.id] = conn

	log.Debug().
		Str("connection_id", conn.id).
		Str("principal", principal).
		Str("encoding", string(enc)).
		Int("total", len(r.conns)).
		Msg("connection registered")
	return conn, nil
}

// Deregister closes a connection and removes it from every channel.
// Returns false if the connection was already gone.
func (r *Registry) Deregister(connectionID string) bool {
	r.connMu.Lock()
	conn, ok := r.conns[connectionID]
	if ok {
		delete(r.conns, connectionID)
	}
	r.connMu.Unlock()

	if !ok {
		return false
	}

	now := r.now()
	conn.mu.Lock()
	conn.state = StateClosed
	joined := make([]string, 0, len(conn.channels))
	for name := range conn.channels {
		joined = append(joined, name)
	}
	conn.channels = make(map[string]struct{})
	conn.grants = make(map[string]domain.ChannelPolicy)
	for _, name := range joined {
		if ch := r.lookupChannel(name); ch != nil {
			ch.removeMember(connectionID, now)
		}
	}
	conn.mu.Unlock()

	conn.outbound.Close()

	log.Debug().
		Str("connection_id", connectionID).
		Strs("channels", joined).
		Uint64("dropped", conn.Dropped()).
		Msg("connection deregistered")
	return true
}

// Connection returns a live connection by id.
func (r *Registry) Connection(connectionID string) (*Connection, bool) {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	conn, ok := r.conns[connectionID]
	return conn, ok
}

// Connections returns a snapshot of all live connections.
func (r *Registry) Connections() []*Connection {
	r.connMu.RLock()
	defer r.connMu.RUnlock()

	result := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		result = append(result, conn)
	}
	return result
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	return len(r.conns)
}

// Authorize records a grant allowing connectionID to join channel.
func (r *Registry) Authorize(connectionID, channel string, policy domain.ChannelPolicy) error {
	conn, err := r.liveConnection(connectionID)
	if err != nil {
		return domain.NewChannelError("authorize", channel, err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.state == StateClosed {
		return domain.NewChannelError("authorize", channel, domain.ErrNotFound)
	}
	conn.grants[channel] = policy
	return nil
}

// Join adds connectionID to channel, creating the channel if needed.
// The connection must hold a grant for the channel.
func (r *Registry) Join(connectionID, channel string) error {
	conn, err := r.liveConnection(connectionID)
	if err != nil {
		return domain.NewChannelError("join", channel, err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if conn.state == StateClosed {
		return domain.NewChannelError("join", channel, domain.ErrNotFound)
	}
	policy, granted := conn.grants[channel]
	if !granted {
		return domain.NewChannelError("join", channel, domain.ErrUnauthorized)
	}
	if _, joined := conn.channels[channel]; joined {
		return nil
	}

	for {
		ch := r.acquireChannel(channel, policy)
		err := ch.addMember(connectionID, r.now())
		if err == nil {
			break
		}
		if !errors.Is(err, errChannelRetired) {
			return domain.NewChannelError("join", channel, err)
		}
	}
	conn.channels[channel] = struct{}{}
	return nil
}

// Leave removes connectionID from channel and drops its grant, so joining
// again needs a fresh Authorize. Not being a member is a no-op.
func (r *Registry) Leave(connectionID, channel string) error {
	conn, err := r.liveConnection(connectionID)
	if err != nil {
		return domain.NewChannelError("leave", channel, err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	delete(conn.grants, channel)
	if _, joined := conn.channels[channel]; !joined {
		return nil
	}
	delete(conn.channels, channel)
	if ch := r.lookupChannel(channel); ch != nil {
		ch.removeMember(connectionID, r.now())
	}
	return nil
}

// MembersOf returns a point-in-time copy of the channel's member ids.
func (r *Registry) MembersOf(channel string) []string {
	ch := r.lookupChannel(channel)
	if ch == nil {
		return []string{}
	}
	return ch.Members()
}

// Channel returns a live channel by name.
func (r *Registry) Channel(name string) (*Channel, bool) {
	ch := r.lookupChannel(name)
	return ch, ch != nil
}

// Channels returns diagnostic snapshots of all live channels, sorted by name.
func (r *Registry) Channels() []ChannelInfo {
	r.chanMu.RLock()
	list := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		list = append(list, ch)
	}
	r.chanMu.RUnlock()

	result := make([]ChannelInfo, 0, len(list))
	for _, ch := range list {
		result = append(result, ch.Info())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// WriteFrame queues a serialized frame on a connection's outbound queue.
// A full queue flags the connection draining and returns domain.ErrBackpressure.
func (r *Registry) WriteFrame(connectionID string, frame []byte) error {
	conn, ok := r.Connection(connectionID)
	if !ok {
		return domain.ErrTransportClosed
	}
	return conn.enqueue(frame)
}

// EncodingOf returns the wire encoding negotiated by a connection.
func (r *Registry) EncodingOf(connectionID string) (events.Encoding, bool) {
	conn, ok := r.Connection(connectionID)
	if !ok {
		return "", false
	}
	return conn.encoding, true
}

// CollectChannels retires and removes channels that have been empty and
// unchanged for at least retention. Returns the number removed.
func (r *Registry) CollectChannels(retention time.Duration) int {
	cutoff := r.now().Add(-retention)

	r.chanMu.Lock()
	defer r.chanMu.Unlock()

	removed := 0
	for name, ch := range r.channels {
		if ch.retireIfIdle(cutoff) {
			delete(r.channels, name)
			removed++
		}
	}
	return removed
}

// RegistryStats is a counter snapshot.
type RegistryStats struct {
	Connections int `json:"connections"`
	Draining    int `json:"draining"`
	Channels    int `json:"channels"`
}

// Stats returns current registry counters.
func (r *Registry) Stats() RegistryStats {
	stats := RegistryStats{}
	for _, conn := range r.Connections() {
		stats.Connections++
		if conn.State() == StateDraining {
			stats.Draining++
		}
	}
	r.chanMu.RLock()
	stats.Channels = len(r.channels)
	r.chanMu.RUnlock()
	return stats
}

func (r *Registry) liveConnection(connectionID string) (*Connection, error) {
	conn, ok := r.Connection(connectionID)
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", connectionID, domain.ErrNotFound)
	}
	return conn, nil
}

func (r *Registry) lookupChannel(name string) *Channel {
	r.chanMu.RLock()
	defer r.chanMu.RUnlock()
	return r.channels[name]
}

// acquireChannel returns the live channel for name, creating it if absent.
func (r *Registry) acquireChannel(name string, policy domain.ChannelPolicy) *Channel {
	if ch := r.lookupChannel(name); ch != nil {
		return ch
	}

	r.chanMu.Lock()
	defer r.chanMu.Unlock()

	if ch, ok := r.channels[name]; ok {
		return ch
	}
	ch := newChannel(name, policy, r.now())
	r.channels[name] = ch
	log.Debug().Str("channel", name).Str("policy", string(policy)).Msg("channel created")
	return ch
}
