// Package amqp publishes to an AMQP 0-9-1 exchange (RabbitMQ) with
// publisher confirms.
package amqp

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/cfbridge/pkg/broker"
	"github.com/edgeflare/cfbridge/pkg/util"
	"github.com/edgeflare/cfbridge/pkg/util/rand"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

const Name = "amqp"

const (
	DefaultHeartbeat      = 10 * time.Second
	DefaultDialTimeout    = 30 * time.Second
	DefaultConfirmTimeout = 30 * time.Second
)

var errNoURL = errors.New("amqp url is required")

// Config holds the connector options.
type Config struct {
	// Declare, when set, declares the exchange on every new channel.
	Declare        *ExchangeConfig `json:"declare,omitempty"`
	TLS            *util.TLSConfig `json:"tls,omitempty"`
	ConnectionName string          `json:"connectionName"`
	Heartbeat      time.Duration   `json:"heartbeat"`
	DialTimeout    time.Duration   `json:"dialTimeout"`
	ConfirmTimeout time.Duration   `json:"confirmTimeout"`
}

// ExchangeConfig describes the exchange to declare.
type ExchangeConfig struct {
	Type       string `json:"type"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"autoDelete"`
}

// Dialer dials AMQP connections and opens confirm mode channels.
type Dialer struct {
	url      string
	exchange string
	config   Config
}

// NewDialer builds a Dialer from broker settings.
func NewDialer(cfg broker.Config) (*Dialer, error) {
	if cfg.URL == "" {
		return nil, errNoURL
	}

	var c Config
	if err := broker.DecodeOptions(cfg.Options, &c); err != nil {
		return nil, err
	}
	c.ConnectionName = cmp.Or(c.ConnectionName, rand.NewClientID("cfbridge"))
	c.Heartbeat = cmp.Or(c.Heartbeat, DefaultHeartbeat)
	c.DialTimeout = cmp.Or(c.DialTimeout, DefaultDialTimeout)
	c.ConfirmTimeout = cmp.Or(c.ConfirmTimeout, DefaultConfirmTimeout)
	if c.Declare != nil {
		c.Declare.Type = cmp.Or(c.Declare.Type, amqp091.ExchangeTopic)
	}

	return &Dialer{url: cfg.URL, exchange: cfg.Exchange, config: c}, nil
}

// Config returns the effective options.
func (d *Dialer) Config() Config {
	return d.config
}

// Dial implements broker.Dialer.
func (d *Dialer) Dial(ctx context.Context) (broker.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tlsConfig, err := d.config.TLS.Load()
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(d.url, amqp091.Config{
		Heartbeat:       d.config.Heartbeat,
		Dial:            amqp091.DefaultDial(d.config.DialTimeout),
		TLSClientConfig: tlsConfig,
		Properties: amqp091.Table{
			"connection_name": d.config.ConnectionName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp confirm mode: %w", err)
	}

	if ex := d.config.Declare; ex != nil && d.exchange != "" {
		if err := ch.ExchangeDeclare(d.exchange, ex.Type, ex.Durable, ex.AutoDelete, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("amqp exchange declare: %w", err)
		}
	}

	return &Channel{conn: conn, ch: ch, confirmTimeout: d.config.ConfirmTimeout}, nil
}

// Channel is a confirm mode AMQP channel on its own connection.
type Channel struct {
	conn           *amqp091.Connection
	ch             *amqp091.Channel
	confirmTimeout time.Duration
}

// Connected implements broker.Channel.
func (c *Channel) Connected() bool {
	return !c.conn.IsClosed() && !c.ch.IsClosed()
}

// Publish sends msg as a persistent message and waits for the broker's
// confirmation.
func (c *Channel) Publish(ctx context.Context, exchange string, msg broker.Message) error {
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, msg.RoutingKey, false, false, publishing(msg))
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ack, err := dc.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("amqp confirm: %w", err)
	}
	if !ack {
		return broker.ErrNacked
	}
	return nil
}

// Close implements broker.Channel.
func (c *Channel) Close() error {
	var err error
	if !c.ch.IsClosed() {
		err = c.ch.Close()
	}
	if !c.conn.IsClosed() {
		err = errors.Join(err, c.conn.Close())
	}
	return err
}

func publishing(msg broker.Message) amqp091.Publishing {
	return amqp091.Publishing{
		Headers:      amqp091.Table(msg.Headers),
		ContentType:  msg.ContentType,
		DeliveryMode: amqp091.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    msg.Timestamp,
		Body:         msg.Body,
	}
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
