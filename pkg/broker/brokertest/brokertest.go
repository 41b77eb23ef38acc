// Package brokertest provides an in-memory broker.Dialer for tests.
package brokertest

import (
	"context"
	"errors"
	"sync"

	"github.com/edgeflare/cfbridge/pkg/broker"
)

// ErrDown is returned by Dial and Publish while the fake broker is down.
var ErrDown = errors.New("brokertest: broker down")

// Broker records every acknowledged message. It is safe for concurrent use.
type Broker struct {
	mu        sync.Mutex
	messages  []broker.Message
	exchanges []string
	dials     int
	down      bool
	// failNext makes the next n publishes fail and mark the channel stale.
	failNext int
	// nackNext makes the next n publishes return broker.ErrNacked.
	nackNext int
	current  *Channel
	// OnPublish, when set, runs before a message is acknowledged.
	OnPublish func(broker.Message)
}

// New returns a reachable broker.
func New() *Broker {
	return &Broker{}
}

// SetDown toggles reachability. Going down marks the open channel stale.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
	if down && b.current != nil {
		b.current.stale = true
	}
}

// FailNext makes the next n publishes fail with a connection error.
func (b *Broker) FailNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = n
}

// NackNext makes the next n publishes be rejected by the broker.
func (b *Broker) NackNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nackNext = n
}

// Dial implements broker.Dialer.
func (b *Broker) Dial(ctx context.Context) (broker.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.down {
		return nil, ErrDown
	}
	b.current = &Channel{b: b}
	return b.current, nil
}

// Dials returns how many times Dial was called.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Messages returns a copy of the acknowledged messages.
func (b *Broker) Messages() []broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Exchanges returns the exchange of each acknowledged message.
func (b *Broker) Exchanges() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.exchanges))
	copy(out, b.exchanges)
	return out
}

// Channel is a channel of Broker.
type Channel struct {
	b      *Broker
	stale  bool
	closed bool
}

// Connected implements broker.Channel.
func (c *Channel) Connected() bool {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	return !c.stale && !c.closed && !c.b.down
}

// Publish implements broker.Channel.
func (c *Channel) Publish(ctx context.Context, exchange string, msg broker.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.b.mu.Lock()
	switch {
	case c.closed || c.stale || c.b.down:
		c.b.mu.Unlock()
		return ErrDown
	case c.b.failNext > 0:
		c.b.failNext--
		c.stale = true
		c.b.mu.Unlock()
		return ErrDown
	case c.b.nackNext > 0:
		c.b.nackNext--
		c.b.mu.Unlock()
		return broker.ErrNacked
	}
	hook := c.b.OnPublish
	c.b.mu.Unlock()

	if hook != nil {
		hook(msg)
	}

	c.b.mu.Lock()
	c.b.messages = append(c.b.messages, msg)
	c.b.exchanges = append(c.b.exchanges, exchange)
	c.b.mu.Unlock()
	return nil
}

// Close implements broker.Channel.
func (c *Channel) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.closed = true
	return nil
}
