package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/cfbridge/pkg/metrics"
	"github.com/edgeflare/cfbridge/pkg/util"
	"go.uber.org/zap"
)

// State is the connection state of a Session.
type State int32

const (
	StateAbsent State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultRetry retries connects and publishes for up to two minutes.
func DefaultRetry() util.RetryConfig {
	r := util.DefaultRetryConfig()
	r.MaxInterval = 10 * time.Second
	r.MaxElapsedTime = 2 * time.Minute
	return r
}

// Session keeps one Channel to the broker and publishes through it. The
// channel is checked before every publish and redialed when stale. Failed
// connects and publishes are retried within the retry budget.
type Session struct {
	dialer   Dialer
	exchange string
	retry    util.RetryConfig
	logger   *zap.Logger

	// mu serializes publishes and guards ch.
	mu    sync.Mutex
	ch    Channel
	state atomic.Int32
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRetry sets the connect and publish retry budget.
func WithRetry(r util.RetryConfig) SessionOption {
	return func(s *Session) { s.retry = r }
}

// WithLogger sets the logger, zap.L() by default.
func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession returns a session publishing to exchange. No connection is
// made until the first Publish or Connect.
func NewSession(dialer Dialer, exchange string, opts ...SessionOption) *Session {
	s := &Session{
		dialer:   dialer,
		exchange: exchange,
		retry:    DefaultRetry(),
		logger:   zap.L(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(zap.String("exchange", exchange))
	s.setState(StateAbsent)
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	metrics.BrokerState.Set(float64(st))
}

// Connect dials the broker eagerly, retrying within the budget.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := func() error {
		_, err := s.ensure(ctx)
		return err
	}
	if err := s.withRetry(ctx, op, "connect"); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	return nil
}

// Publish sends msg and waits for the broker acknowledgement. It returns an
// error once the retry budget is spent, ctx is done, or the session is
// closed.
func (s *Session) Publish(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	op := func() error {
		ch, err := s.ensure(ctx)
		if err != nil {
			return err
		}
		if err := ch.Publish(ctx, s.exchange, msg); err != nil {
			metrics.PublishErrors.WithLabelValues(msg.RoutingKey).Inc()
			if !errors.Is(err, ErrNacked) {
				s.discard()
			}
			return err
		}
		return nil
	}

	if err := s.withRetry(ctx, op, "publish", zap.String("routing_key", msg.RoutingKey)); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.RoutingKey, err)
	}

	metrics.PublishedMessages.WithLabelValues(msg.RoutingKey).Inc()
	metrics.PublishDuration.WithLabelValues(msg.RoutingKey).Observe(time.Since(start).Seconds())
	return nil
}

func (s *Session) withRetry(ctx context.Context, op backoff.Operation, what string, fields ...zap.Field) error {
	guarded := func() error {
		if s.State() == StateClosed {
			return backoff.Permanent(ErrClosed)
		}
		return op()
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn(what+" failed, retrying",
			append(fields, zap.Error(err), zap.Duration("backoff", wait), zap.Stringer("state", s.State()))...)
	}
	return backoff.RetryNotify(guarded, backoff.WithContext(s.retry.NewBackOff(), ctx), notify)
}

// ensure returns a healthy channel, dialing a new one if needed. Callers
// hold mu.
func (s *Session) ensure(ctx context.Context) (Channel, error) {
	if s.ch != nil {
		if s.ch.Connected() {
			return s.ch, nil
		}
		s.logger.Warn("broker channel is stale, reconnecting")
		s.discard()
	}

	if s.State() == StateAbsent {
		s.setState(StateConnecting)
	}

	ch, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if s.State() == StateClosed {
		_ = ch.Close()
		return nil, backoff.Permanent(ErrClosed)
	}

	s.ch = ch
	s.setState(StateConnected)
	s.logger.Info("broker connected")
	return ch, nil
}

// discard drops the current channel. Callers hold mu.
func (s *Session) discard() {
	if s.ch != nil {
		if err := s.ch.Close(); err != nil {
			s.logger.Debug("close stale channel", zap.Error(err))
		}
		s.ch = nil
	}
	if s.State() != StateClosed {
		s.setState(StateReconnecting)
	}
}

// Close marks the session closed and closes the channel. A Publish in
// progress stops retrying after its current attempt.
func (s *Session) Close() error {
	s.setState(StateClosed)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch == nil {
		return nil
	}
	err := s.ch.Close()
	s.ch = nil
	return err
}
