package hub

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/brianly1003/chatcast/internal/domain"
	chsync "github.com/brianly1003/chatcast/internal/sync"
)

// errChannelRetired is returned by operations racing a garbage-collected
// channel. Callers look the channel up again and retry.
var errChannelRetired = errors.New("channel retired")

// Channel is a named fan-out group. Membership is guarded by mu; sequence
// assignment and dispatcher handoff are serialized by publishMu so the order
// events enter the dispatcher matches their sequence numbers.
type Channel struct {
	name      string
	policy    domain.ChannelPolicy
	createdAt time.Time

	publishMu chsync.Mutex
	seq       atomic.Uint64

	mu         chsync.RWMutex
	members    map[string]uint64 // connection id -> last sequence enqueued
	retired    bool
	lastChange time.Time
}

func newChannel(name string, policy domain.ChannelPolicy, now time.Time) *Channel {
	return &Channel{
		name:       name,
		policy:     policy,
		createdAt:  now,
		members:    make(map[string]uint64),
		lastChange: now,
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Policy returns the access policy the channel was created with.
func (c *Channel) Policy() domain.ChannelPolicy {
	return c.policy
}

// NextSequence atomically reserves and returns the next sequence number.
func (c *Channel) NextSequence() uint64 {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	return c.seq.Add(1)
}

// Sequence returns the last assigned sequence number, 0 if none.
func (c *Channel) Sequence() uint64 {
	return c.seq.Load()
}

// publish reserves the next sequence number and passes it to handoff while
// holding the publish lock. The number is only consumed if handoff succeeds.
func (c *Channel) publish(now time.Time, handoff func(seq uint64) error) (uint64, error) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	if c.isRetired() {
		return 0, errChannelRetired
	}

	next := c.seq.Load() + 1
	if err := handoff(next); err != nil {
		return 0, err
	}
	c.seq.Store(next)

	c.mu.Lock()
	c.lastChange = now
	c.mu.Unlock()
	return next, nil
}

// IsEmpty reports whether the channel has no members.
func (c *Channel) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members) == 0
}

// Len returns the member count.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// Members returns a sorted point-in-time copy of member connection ids.
func (c *Channel) Members() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]string, 0, len(c.members))
	for id := range c.members {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Cursor returns the last sequence enqueued to connectionID, 0 if none
// or if the connection is not a member.
func (c *Channel) Cursor(connectionID string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.members[connectionID]
}

func (c *Channel) addMember(connectionID string, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retired {
		return errChannelRetired
	}
	if _, ok := c.members[connectionID]; !ok {
		c.members[connectionID] = 0
		c.lastChange = now
	}
	return nil
}

func (c *Channel) removeMember(connectionID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.members[connectionID]; !ok {
		return false
	}
	delete(c.members, connectionID)
	c.lastChange = now
	return true
}

func (c *Channel) advanceCursor(connectionID string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.members[connectionID]; ok && seq > cur {
		c.members[connectionID] = seq
	}
}

// retireIfIdle marks the channel retired when it is empty and unchanged
// since before cutoff.
func (c *Channel) retireIfIdle(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retired {
		return true
	}
	if len(c.members) > 0 || c.lastChange.After(cutoff) {
		return false
	}
	c.retired = true
	return true
}

func (c *Channel) isRetired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retired
}

// ChannelInfo is a diagnostic snapshot of a channel.
type ChannelInfo struct {
	Name     string `json:"name"`
	Policy   string `json:"policy"`
	Members  int    `json:"members"`
	Sequence uint64 `json:"seq"`
}

// Info returns a diagnostic snapshot of the channel.
func (c *Channel) Info() ChannelInfo {
	return ChannelInfo{
		Name:     c.name,
		Policy:   string(c.policy),
		Members:  c.Len(),
		Sequence: c.Sequence(),
	}
}
