// Package nats publishes to a NATS JetStream stream. The exchange is the
// subject prefix: a message for routing key k goes to "<exchange>.<k>".
package nats

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/edgeflare/cfbridge/pkg/broker"
	"github.com/edgeflare/cfbridge/pkg/util"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const Name = "nats"

// Config holds the connector options.
type Config struct {
	// Stream defaults to "<exchange>-stream".
	Stream   string          `json:"stream"`
	Username string          `json:"username,omitempty"`
	Password string          `json:"password,omitempty"`
	Servers  []string        `json:"servers"`
	Timeout  time.Duration   `json:"timeout"`
	Replicas int             `json:"replicas"`
	TLS      *util.TLSConfig `json:"tls,omitempty"`
}

var errNoExchange = errors.New("nats subject prefix (exchange) is required")

// Dialer connects to NATS and makes sure the stream exists.
type Dialer struct {
	prefix string
	config Config
	tls    *tls.Config
	logger *zap.Logger
}

// NewDialer builds a Dialer. cfg.URL may list several comma separated
// servers; Options.servers overrides it.
func NewDialer(cfg broker.Config) (*Dialer, error) {
	if cfg.Exchange == "" {
		return nil, errNoExchange
	}

	var c Config
	if err := broker.DecodeOptions(cfg.Options, &c); err != nil {
		return nil, err
	}
	if len(c.Servers) == 0 && cfg.URL != "" {
		c.Servers = strings.Split(cfg.URL, ",")
	}
	if len(c.Servers) == 0 {
		c.Servers = []string{nats.DefaultURL}
	}
	c.Stream = cmp.Or(c.Stream, cfg.Exchange+"-stream")
	c.Timeout = cmp.Or(c.Timeout, 5*time.Second)
	c.Replicas = cmp.Or(c.Replicas, 1)

	tlsConfig, err := c.TLS.Load()
	if err != nil {
		return nil, fmt.Errorf("nats tls: %w", err)
	}

	return &Dialer{prefix: cfg.Exchange, config: c, tls: tlsConfig, logger: zap.L().Named(Name)}, nil
}

// Config returns the effective options.
func (d *Dialer) Config() Config {
	return d.config
}

// Subject returns the subject a message with routingKey is published to.
func Subject(prefix, routingKey string) string {
	return prefix + "." + routingKey
}

// Dial implements broker.Dialer.
func (d *Dialer) Dial(ctx context.Context) (broker.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nc, err := nats.Connect(strings.Join(d.config.Servers, ","), d.options()...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS server: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if err := d.ensureStream(js); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &Channel{nc: nc, js: js}, nil
}

// options disables client side reconnects: a lost connection surfaces
// through Connected and the broker session redials.
func (d *Dialer) options() []nats.Option {
	opts := []nats.Option{
		nats.Name("cfbridge"),
		nats.Timeout(d.config.Timeout),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.NoReconnect(),
	}

	if d.config.Username != "" && d.config.Password != "" {
		opts = append(opts, nats.UserInfo(d.config.Username, d.config.Password))
	}

	if d.tls != nil {
		opts = append(opts, nats.Secure(d.tls))
	}

	return opts
}

// ensureStream creates or updates the stream capturing "<prefix>.>".
func (d *Dialer) ensureStream(js nats.JetStreamContext) error {
	config := &nats.StreamConfig{
		Name:     d.config.Stream,
		Subjects: []string{d.prefix + ".>"},
		Storage:  nats.FileStorage,
		Replicas: d.config.Replicas,
	}

	stream, err := js.StreamInfo(config.Name)
	if err == nil {
		if !streamConfigEqual(stream.Config, *config) {
			if _, err = js.UpdateStream(config); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			d.logger.Info("updated stream", zap.String("stream", config.Name))
		}
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("get stream info: %w", err)
	}

	if _, err := js.AddStream(config); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	d.logger.Info("created stream", zap.String("stream", config.Name))
	return nil
}

func streamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		a.Storage == b.Storage &&
		a.Replicas == b.Replicas &&
		slices.Equal(a.Subjects, b.Subjects)
}

// Channel publishes through one NATS connection.
type Channel struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// Connected implements broker.Channel.
func (c *Channel) Connected() bool {
	return c.nc.IsConnected()
}

// Publish sends msg to "<exchange>.<routing key>" and waits for the
// stream's PubAck. The message id is used for JetStream deduplication.
func (c *Channel) Publish(ctx context.Context, exchange string, msg broker.Message) error {
	m := newMsg(exchange, msg)

	opts := []nats.PubOpt{nats.Context(ctx)}
	if msg.MessageID != "" {
		opts = append(opts, nats.MsgId(msg.MessageID))
	}

	if _, err := c.js.PublishMsg(m, opts...); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close implements broker.Channel.
func (c *Channel) Close() error {
	c.nc.Close()
	return nil
}

func newMsg(exchange string, msg broker.Message) *nats.Msg {
	m := nats.NewMsg(Subject(exchange, msg.RoutingKey))
	m.Data = msg.Body
	if msg.ContentType != "" {
		m.Header.Set("Content-Type", msg.ContentType)
	}
	if !msg.Timestamp.IsZero() {
		m.Header.Set("Timestamp", msg.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	for k, v := range msg.Headers {
		m.Header.Set(k, fmt.Sprint(v))
	}
	return m
}

func init() {
	broker.Register(Name, func(cfg broker.Config) (broker.Dialer, error) {
		d, err := NewDialer(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}
