package kafka

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/edgeflare/cfbridge/pkg/broker"
	"github.com/edgeflare/cfbridge/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSaramaConfig(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		mechanism sarama.SASLMechanism
		wantErr   bool
	}{
		{name: "defaults", config: Config{}},
		{name: "sha512", config: Config{SASL: &SASL{Enable: true, Username: "u", Password: "p", Algorithm: "sha512"}}, mechanism: sarama.SASLTypeSCRAMSHA512},
		{name: "sha256", config: Config{SASL: &SASL{Enable: true, Username: "u", Password: "p", Algorithm: "sha256"}}, mechanism: sarama.SASLTypeSCRAMSHA256},
		{name: "disabled sasl", config: Config{SASL: &SASL{Algorithm: "md5"}}},
		{name: "invalid algorithm", config: Config{SASL: &SASL{Enable: true, Algorithm: "md5"}}, wantErr: true},
		{name: "invalid version", config: Config{Version: "not-a-version"}, wantErr: true},
		{name: "invalid tls", config: Config{TLS: &util.TLSConfig{Enable: true, CACert: "garbage"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, err := tt.config.ToSaramaConfig()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, sarama.WaitForAll, conf.Producer.RequiredAcks)
			assert.True(t, conf.Producer.Return.Successes)
			assert.Equal(t, "cfbridge", conf.ClientID)
			assert.Equal(t, tt.mechanism != "", conf.Net.SASL.Enable)
			if tt.mechanism != "" {
				assert.Equal(t, tt.mechanism, conf.Net.SASL.Mechanism)
				assert.NotNil(t, conf.Net.SASL.SCRAMClientGeneratorFunc())
			}
			assert.NoError(t, conf.Validate())
		})
	}
}

func TestNewDialer(t *testing.T) {
	d, err := NewDialer(broker.Config{URL: "k1:9092,k2:9092", Exchange: "cdc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, d.Config().Brokers)

	d, err = NewDialer(broker.Config{
		URL:      "ignored:9092",
		Exchange: "cdc",
		Options:  map[string]any{"brokers": []any{"k3:9092"}, "timeout": "3s"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k3:9092"}, d.Config().Brokers)
	assert.Equal(t, 3*time.Second, d.Config().Timeout)

	_, err = NewDialer(broker.Config{Exchange: "cdc"})
	assert.ErrorIs(t, err, errNoBrokers)

	_, err = NewDialer(broker.Config{URL: "k1:9092"})
	assert.ErrorIs(t, err, errNoTopic)
}

func TestProducerMessage(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	pm := producerMessage("cdc", broker.Message{
		RoutingKey:  "orders",
		Body:        []byte(`{"key":"[1]"}`),
		ContentType: "application/json",
		MessageID:   "id-1",
		Timestamp:   ts,
	})

	assert.Equal(t, "cdc", pm.Topic)
	assert.Equal(t, sarama.StringEncoder("orders"), pm.Key)
	assert.Equal(t, sarama.ByteEncoder(`{"key":"[1]"}`), pm.Value)
	assert.Equal(t, ts, pm.Timestamp)
	require.Len(t, pm.Headers, 2)
	assert.Equal(t, "content-type", string(pm.Headers[0].Key))
	assert.Equal(t, "id-1", string(pm.Headers[1].Value))
}

func TestXDGSCRAMClient(t *testing.T) {
	x := &XDGSCRAMClient{HashGeneratorFcn: SHA256}
	require.NoError(t, x.Begin("user", "pencil", ""))

	first, err := x.Step("")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "n,,n=user,r="), first)
	assert.False(t, x.Done())
}

func TestPublishIntegration(t *testing.T) {
	brokers := os.Getenv("TEST_KAFKA_BROKERS")
	if brokers == "" || testing.Short() {
		t.Skip("TEST_KAFKA_BROKERS not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d, err := NewDialer(broker.Config{URL: brokers, Exchange: "cfbridge_test"})
	require.NoError(t, err)

	ch, err := d.Dial(ctx)
	require.NoError(t, err)
	defer ch.Close()
	assert.True(t, ch.Connected())

	require.NoError(t, ch.Publish(ctx, "cfbridge_test", broker.Message{
		RoutingKey: "orders",
		Body:       []byte(`{"key":"[1]","value":{}}`),
	}))
}
