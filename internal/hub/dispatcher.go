package hub

import (
	"errors"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/brianly1003/chatcast/internal/domain"
	"github.com/brianly1003/chatcast/internal/domain/events"
	"github.com/brianly1003/chatcast/internal/domain/ports"
	chsync "github.com/brianly1003/chatcast/internal/sync"
)

// deliveryTarget is what the dispatcher needs from the registry.
type deliveryTarget interface {
	ports.FrameWriter
	EncodingOf(connectionID string) (events.Encoding, bool)
	Deregister(connectionID string) bool
}

type job struct {
	channel *Channel
	event   *events.BroadcastEvent
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Workers        int
	IntakeCapacity int
}

// Dispatcher fans events out to channel members on a fixed pool of workers.
// Each channel hashes to exactly one worker, so a channel's events are
// delivered in the order they were submitted.
type Dispatcher struct {
	target deliveryTarget
	shards []chan job

	mu      chsync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      conc.WaitGroup

	submitted atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	closed    atomic.Uint64
}

// NewDispatcher creates a stopped dispatcher delivering through target.
func NewDispatcher(target deliveryTarget, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.IntakeCapacity <= 0 {
		opts.IntakeCapacity = DefaultIntakeCapacity
	}
	perShard := opts.IntakeCapacity / opts.Workers
	if perShard < 1 {
		perShard = 1
	}

	shards := make([]chan job, opts.Workers)
	for i := range shards {
		shards[i] = make(chan job, perShard)
	}
	return &Dispatcher{
		target: target,
		shards: shards,
	}
}

// Start launches the workers. Calling Start on a running dispatcher is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})

	stopCh := d.stopCh
	for i, shard := range d.shards {
		idx, queue := i, shard
		d.wg.Go(func() {
			log.Debug().Int("worker", idx).Msg("dispatcher worker started")
			d.worker(stopCh, queue)
			log.Debug().Int("worker", idx).Msg("dispatcher worker stopped")
		})
	}
	log.Info().Int("workers", len(d.shards)).Int("shard_capacity", cap(d.shards[0])).Msg("dispatcher started")
}

// Stop rejects new submissions, lets workers flush what is already queued
// and waits for them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	log.Info().Uint64("delivered", d.delivered.Load()).Uint64("dropped", d.dropped.Load()).Msg("dispatcher stopped")
}

// Submit hands an event to the worker that owns its channel without blocking.
// Returns domain.ErrBackpressure if that worker's queue is full.
func (d *Dispatcher) Submit(ch *Channel, ev *events.BroadcastEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.running {
		return domain.ErrHubNotRunning
	}

	select {
	case d.shards[d.shardFor(ch.Name())] <- job{channel: ch, event: ev}:
		d.submitted.Add(1)
		return nil
	default:
		return fmt.Errorf("dispatcher intake full: %w", domain.ErrBackpressure)
	}
}

func (d *Dispatcher) shardFor(channel string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(channel))
	return int(h.Sum32() % uint32(len(d.shards)))
}

func (d *Dispatcher) worker(stopCh <-chan struct{}, queue <-chan job) {
	for {
		select {
		case j := <-queue:
			d.deliver(j)
		case <-stopCh:
			// flush whatever was accepted before Stop
			for {
				select {
				case j := <-queue:
					d.deliver(j)
				default:
					return
				}
			}
		}
	}
}

// deliver writes one event to every current member of its channel. Each
// encoding is serialized at most once per event.
func (d *Dispatcher) deliver(j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("channel", j.channel.Name()).
				Str("stack", string(debug.Stack())).
				Msg("panic in dispatcher worker")
		}
	}()

	members := j.channel.Members()
	if len(members) == 0 {
		return
	}

	seq := j.event.Sequence()
	frames := make(map[events.Encoding][]byte, 2)

	for _, id := range members {
		enc, ok := d.target.EncodingOf(id)
		if !ok {
			continue
		}

		frame, cached := frames[enc]
		if !cached {
			var err error
			frame, err = j.event.Encode(enc)
			if err != nil {
				log.Error().Err(err).
					Str("channel", j.channel.Name()).
					Str("encoding", string(enc)).
					Uint64("seq", seq).
					Msg("failed to encode event")
			}
			frames[enc] = frame
		}
		if frame == nil {
			continue
		}

		err := d.target.WriteFrame(id, frame)
		switch {
		case err == nil:
			d.delivered.Add(1)
			j.channel.advanceCursor(id, seq)
		case errors.Is(err, domain.ErrBackpressure):
			d.dropped.Add(1)
			log.Debug().
				Str("connection_id", id).
				Str("channel", j.channel.Name()).
				Uint64("seq", seq).
				Msg("outbound queue full, event dropped")
		case errors.Is(err, domain.ErrTransportClosed):
			d.closed.Add(1)
			d.target.Deregister(id)
		default:
			log.Warn().Err(err).Str("connection_id", id).Msg("frame write failed")
		}
	}
}

// DispatcherStats is a counter snapshot.
type DispatcherStats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Closed    uint64 `json:"closed"`
}

// Stats returns current dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	queued := 0
	for _, shard := range d.shards {
		queued += len(shard)
	}
	return DispatcherStats{
		Workers:   len(d.shards),
		Queued:    queued,
		Submitted: d.submitted.Load(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Closed:    d.closed.Load(),
	}
}
