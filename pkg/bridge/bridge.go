// Package bridge wires changefeed consumers, the event bus, the publisher
// and the cursor store into one process and supervises them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/cfbridge/pkg/broker"
	"github.com/edgeflare/cfbridge/pkg/bus"
	"github.com/edgeflare/cfbridge/pkg/changefeed"
	"github.com/edgeflare/cfbridge/pkg/config"
	"github.com/edgeflare/cfbridge/pkg/cursor"
	pg "github.com/edgeflare/cfbridge/pkg/pgx"
	"github.com/edgeflare/cfbridge/pkg/publisher"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	// Register built-in connectors
	_ "github.com/edgeflare/cfbridge/pkg/broker/amqp"
	_ "github.com/edgeflare/cfbridge/pkg/broker/debug"
	_ "github.com/edgeflare/cfbridge/pkg/broker/kafka"
	_ "github.com/edgeflare/cfbridge/pkg/broker/mqtt"
	_ "github.com/edgeflare/cfbridge/pkg/broker/nats"
)

// ErrShutdownTimeout is returned when the publisher did not drain the bus
// within the shutdown timeout.
var ErrShutdownTimeout = errors.New("bridge: shutdown timed out before the publisher drained")

// Bridge runs one consumer per table and a single publisher.
type Bridge struct {
	cfg    config.Config
	logger *zap.Logger

	source changefeed.Source
	store  cursor.Store
	dialer broker.Dialer
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger, zap.L() by default.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithSource replaces the database changefeed source.
func WithSource(s changefeed.Source) Option {
	return func(b *Bridge) { b.source = s }
}

// WithCursorStore replaces the configured cursor store.
func WithCursorStore(s cursor.Store) Option {
	return func(b *Bridge) { b.store = s }
}

// WithDialer replaces the configured broker connector.
func WithDialer(d broker.Dialer) Option {
	return func(b *Bridge) { b.dialer = d }
}

// New validates cfg and returns a Bridge. Nothing is connected until Run.
func New(cfg config.Config, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bridge{cfg: cfg, logger: zap.L()}
	for _, o := range opts {
		o(b)
	}
	if b.cfg.ShutdownTimeout == 0 {
		b.cfg.ShutdownTimeout = config.DefaultShutdownTimeout
	}
	return b, nil
}

// Run starts the bridge and blocks until ctx is canceled or a component
// fails. On cancellation the consumers stop first, then the publisher
// delivers what is queued, bounded by the shutdown timeout. Any startup or
// runtime failure is returned.
func (b *Bridge) Run(ctx context.Context) error {
	pool, err := b.openPool(ctx)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	store, closeStore, err := b.openStore(pool)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("can not create cursor table: %w", err)
	}

	dialer := b.dialer
	if dialer == nil {
		if dialer, err = broker.NewDialer(b.cfg.Broker); err != nil {
			return err
		}
	}
	session := broker.NewSession(dialer, b.cfg.Broker.Exchange,
		broker.WithRetry(b.cfg.Retry.Broker),
		broker.WithLogger(b.logger))
	defer session.Close()

	source := b.source
	if source == nil {
		source = changefeed.PoolSource{Conn: pool}
	}

	events := bus.New()
	pub := publisher.New(events, session, store, publisher.WithLogger(b.logger))

	// The publisher outlives ctx so that it can drain the bus on shutdown.
	pubCtx, pubCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer pubCancel()
	pubDone := make(chan error, 1)
	go func() { pubDone <- pub.Run(pubCtx) }()

	consCtx, consCancel := context.WithCancel(ctx)
	defer consCancel()
	g, gctx := errgroup.WithContext(consCtx)
	envelope, _ := changefeed.ParseEnvelope(b.cfg.Changefeed.Envelope)
	for _, table := range b.cfg.Tables {
		c := changefeed.NewConsumer(changefeed.Options{
			Table:     table,
			Envelope:  envelope,
			Cursor:    b.cfg.Changefeed.Cursor,
			Statement: b.cfg.Changefeed.Statement,
			Resolved:  b.cfg.Changefeed.Resolved,
		}, source, store, events,
			changefeed.WithRetry(b.cfg.Retry.Stream),
			changefeed.WithLogger(b.logger))
		g.Go(func() error { return c.Run(gctx) })
	}
	consDone := make(chan error, 1)
	go func() { consDone <- g.Wait() }()

	b.logger.Info("bridge started",
		zap.Strings("tables", b.cfg.Tables),
		zap.String("connector", b.cfg.Broker.Connector),
		zap.String("exchange", b.cfg.Broker.Exchange))

	var consErr error
	select {
	case consErr = <-consDone:
	case pubErr := <-pubDone:
		// The publisher only stops early on its own failure or on a Stop
		// sent by a failing consumer.
		consCancel()
		consErr = <-consDone
		if pubErr != nil {
			return pubErr
		}
		if consErr == nil {
			consErr = errors.New("bridge: publisher stopped unexpectedly")
		}
		return consErr
	}

	if consErr == nil {
		b.logger.Info("shutting down, draining publisher", zap.Int("pending", events.Len()))
	}
	if err := events.Send(bus.Stop{}); err != nil && !errors.Is(err, bus.ErrClosed) {
		b.logger.Warn("enqueue stop", zap.Error(err))
	}

	timer := time.NewTimer(b.cfg.ShutdownTimeout)
	defer timer.Stop()

	var pubErr error
	select {
	case pubErr = <-pubDone:
	case <-timer.C:
		pubCancel()
		<-pubDone
		pubErr = ErrShutdownTimeout
	}

	if consErr != nil {
		return consErr
	}
	if pubErr != nil {
		return pubErr
	}
	b.logger.Info("shutdown complete")
	return nil
}

func (b *Bridge) openPool(ctx context.Context) (*pgxpool.Pool, error) {
	needPool := b.source == nil ||
		(b.store == nil && (b.cfg.Cursor.Backend == "" || b.cfg.Cursor.Backend == cursor.BackendPostgres))
	if !needPool {
		return nil, nil
	}

	pool, err := pg.NewPool(ctx, pg.PoolConfig{
		ConnString:      b.cfg.Database.URL,
		Tables:          len(b.cfg.Tables),
		MinConns:        b.cfg.Database.MinConns,
		MaxConns:        b.cfg.Database.MaxConns,
		ConnectTimeout:  b.cfg.Database.ConnectTimeout,
		MaxConnLifetime: b.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("can not create connection pool: %w", err)
	}
	return pool, nil
}

func (b *Bridge) openStore(pool *pgxpool.Pool) (cursor.Store, func() error, error) {
	if b.store != nil {
		return b.store, func() error { return nil }, nil
	}
	var conn pg.Conn
	if pool != nil {
		conn = pool
	}
	return cursor.Open(b.cfg.Cursor, conn)
}
