// Package mqtt publishes to an MQTT broker. A message for routing key k is
// published to topic "<exchange>/<k>".
package mqtt

import (
	"context"
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/cfbridge/pkg/broker"
	"go.uber.org/zap"
)

const Name = "mqtt"

var errNoTopicPrefix = errors.New("mqtt topic prefix (exchange) is required")

// Dialer connects paho clients.
type Dialer struct {
	config Config
	logger *zap.Logger
}

// NewDialer builds a Dialer. cfg.URL is a comma separated server list;
// Options.servers overrides it.
func NewDialer(cfg broker.Config) (*Dialer, error) {
	if cfg.Exchange == "" {
		return nil, errNoTopicPrefix
	}

	var c Config
	if err := broker.DecodeOptions(cfg.Options, &c); err != nil {
		return nil, err
	}
	c.setDefaults(cfg.URL)

	if _, err := c.pahoOptions(); err != nil {
		return nil, err
	}
	return &Dialer{config: c, logger: zap.L().Named(Name)}, nil
}

// Config returns the effective options.
func (d *Dialer) Config() Config {
	return d.config
}

// Topic returns the topic a message with routingKey is published to.
func Topic(prefix, routingKey string) string {
	return prefix + "/" + routingKey
}

// Dial implements broker.Dialer.
func (d *Dialer) Dial(ctx context.Context) (broker.Channel, error) {
	opts, err := d.config.pahoOptions()
	if err != nil {
		return nil, err
	}

	c := &Client{
		client: mqtt.NewClient(opts),
		config: d.config,
		logger: d.logger,
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Client is one connected paho client.
type Client struct {
	client mqtt.Client
	config Config
	logger *zap.Logger
}

// Connect establishes a connection to the MQTT broker.
func (c *Client) Connect(ctx context.Context) error {
	if err := wait(ctx, c.client.Connect()); err != nil {
		// An abandoned connect may still complete in the background.
		c.client.Disconnect(0)
		return fmt.Errorf("broker connection error: %w", err)
	}
	c.logger.Debug("connected to MQTT broker", zap.String("clientID", c.config.ClientID))
	return nil
}

// Connected implements broker.Channel.
func (c *Client) Connected() bool {
	return c.client.IsConnectionOpen()
}

// Publish sends the message body to "<exchange>/<routing key>" and waits for
// the broker's acknowledgement (QoS 1 by default).
func (c *Client) Publish(ctx context.Context, exchange string, msg broker.Message) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.PublishTimeout)
	defer cancel()

	topic := Topic(exchange, msg.RoutingKey)
	if err := wait(ctx, c.client.Publish(topic, c.config.QoS, c.config.Retained, msg.Body)); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	c.logger.Debug("message published", zap.String("topic", topic))
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() error {
	c.client.Disconnect(250)
	return nil
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
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
