// Package broker publishes bridge messages to a message broker.
//
// A connector package (amqp, nats, kafka, mqtt) registers a Factory under its
// name from init(). The Factory turns a Config into a Dialer, and a Session
// owns the Channel the Dialer returns, redialing it when it goes stale.
package broker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
)

// DefaultConnector is used when Config.Connector is empty.
const DefaultConnector = "amqp"

var (
	// ErrUnknownConnector is returned by NewDialer for an unregistered name.
	ErrUnknownConnector = errors.New("broker: unknown connector")
	// ErrNacked is returned by Channel.Publish when the broker explicitly
	// rejected the message. The channel itself is still usable.
	ErrNacked = errors.New("broker: message nacked")
	// ErrClosed is returned by Session.Publish after Close.
	ErrClosed = errors.New("broker: session closed")
)

// Message is one message handed to the broker.
type Message struct {
	Timestamp   time.Time
	Headers     map[string]any
	RoutingKey  string
	ContentType string
	MessageID   string
	Body        []byte
}

// Channel is a connected publishing handle.
type Channel interface {
	// Connected reports whether the underlying connection is still usable.
	Connected() bool
	// Publish sends msg and returns once the broker acknowledged it.
	Publish(ctx context.Context, exchange string, msg Message) error
	Close() error
}

// Dialer opens Channels.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context) (Channel, error) { return f(ctx) }

// Config selects a connector and its settings.
type Config struct {
	// Options holds connector specific settings, decoded with DecodeOptions.
	Options   map[string]any `mapstructure:"options" json:"options,omitempty"`
	Connector string         `mapstructure:"connector" json:"connector"`
	URL       string         `mapstructure:"url" json:"url"`
	Exchange  string         `mapstructure:"exchange" json:"exchange"`
}

// Factory builds a Dialer from cfg.
type Factory func(cfg Config) (Dialer, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a connector factory under name, replacing any previous one.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Connectors lists the registered connector names.
func Connectors() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewDialer returns a Dialer from the connector named by cfg.Connector.
func NewDialer(cfg Config) (Dialer, error) {
	if cfg.Connector == "" {
		cfg.Connector = DefaultConnector
	}

	mu.RLock()
	f, ok := factories[cfg.Connector]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownConnector, cfg.Connector, Connectors())
	}

	d, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s connector: %w", cfg.Connector, err)
	}
	return d, nil
}

// DecodeOptions decodes connector options into target, a pointer to a
// struct with json tags. Durations may be given as strings ("5s") and
// string lists as comma separated strings.
func DecodeOptions(options map[string]any, target any) error {
	if len(options) == 0 {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           target,
	})
	if err != nil {
		return err
	}

	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}
