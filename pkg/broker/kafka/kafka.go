// Package kafka publishes to a Kafka topic. The exchange is the topic and the
// routing key is the record key, so changes to one table stay in one
// partition.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/edgeflare/cfbridge/pkg/broker"
)

const Name = "kafka"

var (
	errNoBrokers = errors.New("kafka brokers are required")
	errNoTopic   = errors.New("kafka topic (exchange) is required")
)

// Dialer opens a sarama client and a sync producer on it.
type Dialer struct {
	config Config
	sarama *sarama.Config
}

// NewDialer builds a Dialer. cfg.URL is a comma separated broker list;
// Options.brokers overrides it.
func NewDialer(cfg broker.Config) (*Dialer, error) {
	if cfg.Exchange == "" {
		return nil, errNoTopic
	}

	var c Config
	if err := broker.DecodeOptions(cfg.Options, &c); err != nil {
		return nil, err
	}
	if len(c.Brokers) == 0 && cfg.URL != "" {
		c.Brokers = strings.Split(cfg.URL, ",")
	}
	if len(c.Brokers) == 0 {
		return nil, errNoBrokers
	}

	sc, err := c.ToSaramaConfig()
	if err != nil {
		return nil, err
	}
	return &Dialer{config: c, sarama: sc}, nil
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

	client, err := sarama.NewClient(d.config.Brokers, d.sarama)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &Channel{client: client, producer: producer}, nil
}

// Channel is a sync producer with its own client.
type Channel struct {
	client   sarama.Client
	producer sarama.SyncProducer
}

// Connected implements broker.Channel.
func (c *Channel) Connected() bool {
	return !c.client.Closed() && len(c.client.Brokers()) > 0
}

// Publish implements broker.Channel. It returns once all in-sync replicas
// have the record.
func (c *Channel) Publish(ctx context.Context, topic string, msg broker.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := c.producer.SendMessage(producerMessage(topic, msg)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close implements broker.Channel.
func (c *Channel) Close() error {
	err := c.producer.Close()
	if !c.client.Closed() {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

func producerMessage(topic string, msg broker.Message) *sarama.ProducerMessage {
	pm := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(msg.RoutingKey),
		Value:     sarama.ByteEncoder(msg.Body),
		Timestamp: msg.Timestamp,
	}

	header := func(k, v string) {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	if msg.ContentType != "" {
		header("content-type", msg.ContentType)
	}
	if msg.MessageID != "" {
		header("message-id", msg.MessageID)
	}
	for k, v := range msg.Headers {
		header(k, fmt.Sprint(v))
	}
	return pm
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
