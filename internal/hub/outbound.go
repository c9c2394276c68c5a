package hub

import (
	"github.com/brianly1003/chatcast/internal/domain"
	chsync "github.com/brianly1003/chatcast/internal/sync"
)

// Outbound is a connection's bounded FIFO of serialized frames.
// Enqueue never blocks; the transport drains Frames() onto the socket.
type Outbound struct {
	ch   chan []byte
	done chan struct{}

	mu     chsync.Mutex
	closed bool
}

// newOutbound creates an outbound queue holding at most capacity frames.
func newOutbound(capacity int) *Outbound {
	if capacity < 1 {
		capacity = 1
	}
	return &Outbound{
		ch:   make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue queues a frame. Returns domain.ErrBackpressure if the queue is
// full, or domain.ErrTransportClosed if the queue has been closed.
func (o *Outbound) Enqueue(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return domain.ErrTransportClosed
	}

	select {
	case o.ch <- frame:
		return nil
	default:
		return domain.ErrBackpressure
	}
}

// Frames returns the channel the transport reads from. It is never closed;
// select on Done() to observe shutdown.
func (o *Outbound) Frames() <-chan []byte {
	return o.ch
}

// Done returns a channel that's closed when the queue is closed.
func (o *Outbound) Done() <-chan struct{} {
	return o.done
}

// Close closes the queue. Safe to call multiple times.
func (o *Outbound) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	close(o.done)
}

// IsClosed returns true if the queue is closed.
func (o *Outbound) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Len returns the number of frames waiting to be written.
func (o *Outbound) Len() int {
	return len(o.ch)
}

// Cap returns the queue capacity.
func (o *Outbound) Cap() int {
	return cap(o.ch)
}
