package changefeed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/cfbridge/pkg/bus"
	"github.com/edgeflare/cfbridge/pkg/metrics"
	"github.com/edgeflare/cfbridge/pkg/util"
	"go.uber.org/zap"
)

// ErrRetriesExhausted is returned when the stream kept failing for longer
// than the retry policy allows.
var ErrRetriesExhausted = errors.New("changefeed: retries exhausted")

// CursorGetter seeds the consumer's resume token. cursor.Store implements it.
type CursorGetter interface {
	Get(ctx context.Context, table string) (token string, ok bool, err error)
}

// Sender enqueues bridge events. *bus.Bus implements it.
type Sender interface {
	Send(e bus.Event) error
}

// Consumer follows the changefeed of one table. Its state is owned by the
// goroutine calling Run.
type Consumer struct {
	opts    Options
	source  Source
	cursors CursorGetter
	events  Sender
	retry   util.RetryConfig
	logger  *zap.Logger

	// pending is set while changes were forwarded after the last emitted
	// cursor.
	pending bool
	// lastUpdated is the `updated` timestamp of the last change forwarded
	// since the last emitted cursor, empty when none carried one.
	lastUpdated string
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithRetry sets the resubscription backoff policy.
func WithRetry(r util.RetryConfig) Option {
	return func(c *Consumer) { c.retry = r }
}

// WithLogger sets the logger, zap.L() by default.
func WithLogger(l *zap.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConsumer returns a consumer for opts.Table. opts.Cursor is overridden
// by a stored cursor when one exists.
func NewConsumer(opts Options, source Source, cursors CursorGetter, events Sender, options ...Option) *Consumer {
	c := &Consumer{
		opts:    opts,
		source:  source,
		cursors: cursors,
		events:  events,
		retry:   util.DefaultRetryConfig(),
		logger:  zap.L(),
	}
	for _, o := range options {
		o(c)
	}
	c.logger = c.logger.With(zap.String("table", opts.Table))
	return c
}

// Cursor returns the token the next subscription attempt resumes from.
func (c *Consumer) Cursor() string {
	return c.opts.Cursor
}

// Run seeds the cursor and follows the changefeed, resubscribing on
// recoverable errors, until ctx is canceled (returns nil) or a fatal error
// occurs. On a fatal error a bus.Stop is enqueued before returning so the
// publisher drains and exits.
func (c *Consumer) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			c.logger.Error("stop listening changefeed", zap.Error(err))
			if sendErr := c.events.Send(bus.Stop{}); sendErr != nil && !errors.Is(sendErr, bus.ErrClosed) {
				c.logger.Warn("enqueue stop", zap.Error(sendErr))
			}
		}
	}()

	if _, err := c.opts.QueryString(); err != nil {
		return err
	}

	if err := c.seed(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	c.logger.Info("fetching changefeed", zap.String("cursor", c.opts.Cursor))

	b := c.retry.NewBackOff()
	for {
		rows, err := c.fetch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		if rows > 0 {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("%w for table %s", ErrRetriesExhausted, c.opts.Table)
		}

		c.logger.Info("resubscribing changefeed",
			zap.String("cursor", c.opts.Cursor),
			zap.Duration("backoff", wait))

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
}

func (c *Consumer) seed(ctx context.Context) error {
	token, ok, err := c.cursors.Get(ctx, c.opts.Table)
	if err != nil {
		return fmt.Errorf("can not fetch cursor: %w", err)
	}
	if ok && token != "" {
		c.opts.Cursor = token
	}
	return nil
}

// fetch runs one subscription attempt and returns the number of rows read.
// A non-nil error is fatal; recoverable endings are logged and return nil.
func (c *Consumer) fetch(ctx context.Context) (int, error) {
	query, err := c.opts.QueryString()
	if err != nil {
		return 0, err
	}

	// Closing pgx rows drains the result set, which never ends for a
	// changefeed. Cancel the query first.
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows, err := c.source.Stream(attemptCtx, query)
	if err != nil {
		c.transportError(ctx, err)
		return 0, nil
	}
	defer func() {
		cancel()
		rows.Close()
	}()

	n := 0
	for rows.Next() {
		var (
			table      *string
			key, value []byte
		)
		if err := rows.Scan(&table, &key, &value); err != nil {
			return n, fmt.Errorf("%w: scan: %v", ErrDecode, err)
		}
		n++

		switch row := Classify(table, key, value, c.opts.Envelope).(type) {
		case ChangeRow:
			if err := c.handleChange(row); err != nil {
				return n, err
			}
		case CheckpointRow:
			if err := c.handleCheckpoint(row); err != nil {
				return n, err
			}
		default:
			c.logger.Warn("unexpected changefeed row, resubscribing")
			metrics.StreamRestarts.WithLabelValues(c.opts.Table, "unknown_row").Inc()
			return n, nil
		}
	}

	if err := rows.Err(); err != nil {
		c.transportError(ctx, err)
		return n, nil
	}

	c.logger.Info("done fetch changefeed")
	metrics.StreamRestarts.WithLabelValues(c.opts.Table, "end_of_stream").Inc()
	return n, nil
}

func (c *Consumer) transportError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	if IsConnectionLost(err) {
		c.logger.Error("database connection lost", zap.Error(err))
		metrics.StreamRestarts.WithLabelValues(c.opts.Table, "connection_lost").Inc()
		return
	}
	c.logger.Error("changefeed query failed", zap.Error(err))
	metrics.StreamRestarts.WithLabelValues(c.opts.Table, "error").Inc()
}

func (c *Consumer) handleChange(row ChangeRow) error {
	payload, updated, err := row.Decode()
	if err != nil {
		return err
	}

	if updated != "" {
		c.lastUpdated = updated
	}

	if err := c.events.Send(bus.Publish{Table: row.Table, Payload: payload}); err != nil {
		return fmt.Errorf("enqueue change: %w", err)
	}
	metrics.ChangesForwarded.WithLabelValues(c.opts.Table).Inc()

	c.pending = true
	return nil
}

func (c *Consumer) handleCheckpoint(row CheckpointRow) error {
	resolved, err := row.Resolved()
	if err != nil {
		return err
	}

	if c.pending {
		// Changes without `updated` (key-only envelopes) are covered by the
		// watermark, and the bus delivers this cursor after them.
		token := cmp.Or(c.lastUpdated, resolved)
		if err := c.events.Send(bus.Cursor{Table: c.opts.Table, Cursor: token}); err != nil {
			return fmt.Errorf("enqueue cursor: %w", err)
		}
		metrics.CheckpointsEmitted.WithLabelValues(c.opts.Table).Inc()
		c.pending = false
		c.lastUpdated = ""
	}

	c.opts.Cursor = resolved
	return nil
}
