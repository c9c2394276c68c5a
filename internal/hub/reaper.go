package hub

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	chsync "github.com/brianly1003/chatcast/internal/sync"
)

// ReaperLimits are the eviction thresholds. Zero disables a check.
type ReaperLimits struct {
	// MaxIdle evicts connections with no transport activity for this long.
	MaxIdle time.Duration

	// MaxMissed evicts draining connections that dropped more than this many
	// consecutive events.
	MaxMissed int

	// ChannelRetention is how long an empty channel is kept before removal.
	ChannelRetention time.Duration
}

// SweepResult reports what one reaper pass removed.
type SweepResult struct {
	Evicted  []string
	Channels int
}

// Reaper periodically evicts idle or hopelessly slow connections and
// garbage-collects empty channels.
type Reaper struct {
	registry *Registry
	interval time.Duration

	mu     chsync.Mutex
	limits ReaperLimits

	evicted   atomic.Uint64
	collected atomic.Uint64
}

// NewReaper creates a reaper for registry.
func NewReaper(registry *Registry, interval time.Duration, limits ReaperLimits) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{
		registry: registry,
		interval: interval,
		limits:   limits,
	}
}

// SetLimits replaces the eviction thresholds; takes effect on the next sweep.
func (r *Reaper) SetLimits(limits ReaperLimits) {
	r.mu.Lock()
	r.limits = limits
	r.mu.Unlock()

	log.Info().
		Dur("max_idle", limits.MaxIdle).
		Int("max_missed", limits.MaxMissed).
		Dur("channel_retention", limits.ChannelRetention).
		Msg("reaper limits updated")
}

// Limits returns the current thresholds.
func (r *Reaper) Limits() ReaperLimits {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limits
}

// Sweep runs one eviction and collection pass.
func (r *Reaper) Sweep() SweepResult {
	limits := r.Limits()
	now := r.registry.now()

	var result SweepResult
	for _, conn := range r.registry.Connections() {
		reason := ""
		switch {
		case limits.MaxIdle > 0 && now.Sub(conn.LastActivity()) > limits.MaxIdle:
			reason = "idle"
		case limits.MaxMissed > 0 && conn.State() == StateDraining && conn.Missed() > limits.MaxMissed:
			reason = "missed"
		}
		if reason == "" {
			continue
		}
		if r.registry.Deregister(conn.ID()) {
			result.Evicted = append(result.Evicted, conn.ID())
			log.Info().
				Str("connection_id", conn.ID()).
				Str("principal", conn.Principal()).
				Str("reason", reason).
				Msg("connection evicted")
		}
	}

	result.Channels = r.registry.CollectChannels(limits.ChannelRetention)

	r.evicted.Add(uint64(len(result.Evicted)))
	r.collected.Add(uint64(result.Channels))
	return result
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := r.Sweep()
			if len(res.Evicted) > 0 || res.Channels > 0 {
				log.Debug().
					Int("evicted", len(res.Evicted)).
					Int("channels_collected", res.Channels).
					Msg("reaper sweep")
			}
		}
	}
}

// Evicted returns the total number of connections evicted.
func (r *Reaper) Evicted() uint64 {
	return r.evicted.Load()
}

// Collected returns the total number of channels garbage-collected.
func (r *Reaper) Collected() uint64 {
	return r.collected.Load()
}
