package hub

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
	chsync "github.com/brianly1003/chatcast/internal/sync"
)

// ConnectionState is the outbound-queue state of a connection.
type ConnectionState int32

const (
	StateOpen ConnectionState = iota
	StateDraining
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one live subscriber session. Connections are created and
// destroyed only by the Registry.
type Connection struct {
	id        string
	principal string
	encoding  events.Encoding
	createdAt time.Time
	outbound  *Outbound

	lastActivity atomic.Int64 // unix nanos
	dropped      atomic.Uint64

	mu       chsync.Mutex
	state    ConnectionState
	missed   int // consecutive frames dropped while draining
	channels map[string]struct{}
	grants   map[string]domain.ChannelPolicy
}

func newConnection(id, principal string, enc events.Encoding, capacity int, now time.Time) *Connection {
	c := &Connection{
		id:        id,
		principal: principal,
		encoding:  enc,
		createdAt: now,
		outbound:  newOutbound(capacity),
		state:     StateOpen,
		channels:  make(map[string]struct{}),
		grants:    make(map[string]domain.ChannelPolicy),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// Principal returns the authenticated identity that owns the connection.
func (c *Connection) Principal() string {
	return c.principal
}

// Encoding returns the negotiated wire encoding.
func (c *Connection) Encoding() events.Encoding {
	return c.encoding
}

// CreatedAt returns when the connection was registered.
func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// Outbound returns the connection's outbound queue for the transport to drain.
func (c *Connection) Outbound() *Outbound {
	return c.outbound
}

// State returns the current outbound-queue state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Channels returns a sorted copy of the joined channel names.
func (c *Connection) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]string, 0, len(c.channels))
	for name := range c.channels {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// IsAuthorized reports whether the connection holds a grant for channel.
func (c *Connection) IsAuthorized(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.grants[channel]
	return ok
}

// Touch records transport activity (a read, a pong or a completed write).
func (c *Connection) Touch(t time.Time) {
	c.lastActivity.Store(t.UnixNano())
}

// LastActivity returns the time of the most recent transport activity.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Dropped returns the total number of frames dropped for this connection.
func (c *Connection) Dropped() uint64 {
	return c.dropped.Load()
}

// Missed returns the number of consecutive frames dropped while draining.
func (c *Connection) Missed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.missed
}

// enqueue pushes a frame without blocking and updates the draining state.
func (c *Connection) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return domain.ErrTransportClosed
	}

	err := c.outbound.Enqueue(frame)
	switch {
	case err == nil:
		c.state = StateOpen
		c.missed = 0
	case errors.Is(err, domain.ErrBackpressure):
		c.state = StateDraining
		c.missed++
		c.dropped.Add(1)
	}
	return err
}

// ConnectionInfo is a point-in-time view of a connection for diagnostics.
type ConnectionInfo struct {
	ID           string    `json:"id"`
	Principal    string    `json:"principal"`
	Encoding     string    `json:"encoding"`
	State        string    `json:"state"`
	Channels     []string  `json:"channels"`
	Pending      int       `json:"pending"`
	Dropped      uint64    `json:"dropped"`
	LastActivity time.Time `json:"last_activity"`
}

// Info returns a diagnostic snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:           c.id,
		Principal:    c.principal,
		Encoding:     string(c.encoding),
		State:        c.State().String(),
		Channels:     c.Channels(),
		Pending:      c.outbound.Len(),
		Dropped:      c.Dropped(),
		LastActivity: c.LastActivity(),
	}
}
