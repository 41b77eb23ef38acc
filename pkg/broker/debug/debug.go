// Package debug is a broker connector that logs messages instead of sending
// them. Useful for dry runs against a real changefeed.
package debug

import (
	"context"

	"github.com/edgeflare/cfbridge/pkg/broker"
	"go.uber.org/zap"
)

const Name = "debug"

// Dialer returns channels logging to Logger, zap.L() when nil.
type Dialer struct {
	Logger *zap.Logger
}

// Dial implements broker.Dialer.
func (d *Dialer) Dial(_ context.Context) (broker.Channel, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.L()
	}
	return &Channel{logger: logger.Named(Name)}, nil
}

// Channel logs every published message at info level.
type Channel struct {
	logger *zap.Logger
}

func (c *Channel) Connected() bool { return true }

func (c *Channel) Publish(_ context.Context, exchange string, msg broker.Message) error {
	c.logger.Info("publish",
		zap.String("exchange", exchange),
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.MessageID),
		zap.ByteString("body", msg.Body))
	return nil
}

func (c *Channel) Close() error { return nil }

func init() {
	broker.Register(Name, func(broker.Config) (broker.Dialer, error) {
		return &Dialer{}, nil
	})
}
