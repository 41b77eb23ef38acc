package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrClosed is returned by Send once the bus is closed, and by Receive once
// the bus is closed and drained.
var ErrClosed = errors.New("bus closed")

// Bus is an unbounded MPSC queue of events.
type Bus struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
	// ready holds at most one token, signalling that q may be non-empty or
	// that the bus was closed.
	ready chan struct{}
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		q:     queue.New(),
		ready: make(chan struct{}, 1),
	}
}

// Send enqueues e without blocking.
func (b *Bus) Send(e Event) error {
	if e == nil {
		return errors.New("bus: nil event")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.q.Add(e)
	b.mu.Unlock()

	b.notify()
	return nil
}

// Receive returns the next event, blocking until one is available, ctx is
// done, or the bus is closed and empty.
func (b *Bus) Receive(ctx context.Context) (Event, error) {
	for {
		b.mu.Lock()
		if b.q.Length() > 0 {
			e := b.q.Remove().(Event)
			more := b.q.Length() > 0
			b.mu.Unlock()
			if more {
				b.notify()
			}
			return e, nil
		}
		closed := b.closed
		b.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-b.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued events.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}

// Close rejects further sends. Events already queued can still be received.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.notify()
}

func (b *Bus) notify() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
