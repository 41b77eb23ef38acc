// Package publisher drains the event bus: changes go to the broker, cursors
// go to the cursor store, in the order they were enqueued.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/cfbridge/pkg/broker"
	"github.com/edgeflare/cfbridge/pkg/bus"
	"github.com/edgeflare/cfbridge/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContentType of every published message body.
const ContentType = "application/json"

// Events is the receiving side of the bus. *bus.Bus implements it.
type Events interface {
	Receive(ctx context.Context) (bus.Event, error)
	Len() int
	Close()
}

// Broker publishes one message and waits for the acknowledgement.
// *broker.Session implements it.
type Broker interface {
	Publish(ctx context.Context, msg broker.Message) error
}

// CursorPutter persists cursors. cursor.Store implements it.
type CursorPutter interface {
	Put(ctx context.Context, table, token string) error
}

// Publisher is the single consumer of the bus.
type Publisher struct {
	events  Events
	broker  Broker
	cursors CursorPutter
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger, zap.L() by default.
func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// New returns a publisher reading from events.
func New(events Events, b Broker, cursors CursorPutter, opts ...Option) *Publisher {
	p := &Publisher{
		events:  events,
		broker:  b,
		cursors: cursors,
		logger:  zap.L(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run handles events until a Stop event, until the bus is closed and
// drained, or until an error. A failed publish (after the broker's retry
// budget) or a failed cursor write is returned as is; the bus is closed on
// return so producers stop enqueueing.
//
// ctx bounds the whole run, including the wait for acknowledgements, and is
// expected to outlive the producers so that queued events are delivered.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.events.Close()

	for {
		e, err := p.events.Receive(ctx)
		metrics.BusDepth.Set(float64(p.events.Len()))
		if errors.Is(err, bus.ErrClosed) {
			p.logger.Info("event bus closed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive event: %w", err)
		}

		switch e := e.(type) {
		case bus.Publish:
			if err := p.publish(ctx, e); err != nil {
				p.logger.Error("publish failed", zap.String("table", e.Table), zap.Error(err))
				return err
			}
		case bus.Cursor:
			if err := p.saveCursor(ctx, e); err != nil {
				p.logger.Error("can not save cursor", zap.String("table", e.Table), zap.Error(err))
				return err
			}
		case bus.Stop:
			p.logger.Info("stopping publisher", zap.Int("pending", p.events.Len()))
			return nil
		default:
			p.logger.Warn("ignoring unknown event", zap.String("kind", bus.Kind(e)))
		}
	}
}

func (p *Publisher) publish(ctx context.Context, e bus.Publish) error {
	msg := broker.Message{
		RoutingKey:  e.Table,
		Body:        e.Payload,
		ContentType: ContentType,
		MessageID:   uuid.NewString(),
		Timestamp:   p.now().UTC(),
	}
	if err := p.broker.Publish(ctx, msg); err != nil {
		return err
	}
	p.logger.Debug("published change", zap.String("table", e.Table), zap.String("message_id", msg.MessageID))
	return nil
}

func (p *Publisher) saveCursor(ctx context.Context, e bus.Cursor) error {
	if err := p.cursors.Put(ctx, e.Table, e.Cursor); err != nil {
		return fmt.Errorf("save cursor for %s: %w", e.Table, err)
	}
	metrics.CursorsSaved.WithLabelValues(e.Table).Inc()
	p.logger.Debug("saved cursor", zap.String("table", e.Table), zap.String("cursor", e.Cursor))
	return nil
}
