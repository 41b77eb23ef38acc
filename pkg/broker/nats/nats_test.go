package nats

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgeflare/cfbridge/pkg/broker"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDialer(t *testing.T) {
	tests := []struct {
		name        string
		cfg         broker.Config
		wantServers []string
		wantStream  string
	}{
		{
			name:        "defaults",
			cfg:         broker.Config{Exchange: "cdc"},
			wantServers: []string{nats.DefaultURL},
			wantStream:  "cdc-stream",
		},
		{
			name:        "servers from url",
			cfg:         broker.Config{Exchange: "cdc", URL: "nats://a:4222,nats://b:4222"},
			wantServers: []string{"nats://a:4222", "nats://b:4222"},
			wantStream:  "cdc-stream",
		},
		{
			name: "servers from options",
			cfg: broker.Config{
				Exchange: "cdc",
				URL:      "nats://ignored:4222",
				Options:  map[string]any{"servers": "nats://c:4222", "stream": "changes"},
			},
			wantServers: []string{"nats://c:4222"},
			wantStream:  "changes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDialer(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantServers, d.Config().Servers)
			assert.Equal(t, tt.wantStream, d.Config().Stream)
			assert.Equal(t, 1, d.Config().Replicas)
		})
	}
}

func TestNewDialerRequiresExchange(t *testing.T) {
	_, err := NewDialer(broker.Config{URL: nats.DefaultURL})
	assert.ErrorIs(t, err, errNoExchange)
}

func TestNewDialerTLS(t *testing.T) {
	plain, err := NewDialer(broker.Config{Exchange: "cdc"})
	require.NoError(t, err)
	assert.Nil(t, plain.tls)

	secure, err := NewDialer(broker.Config{
		Exchange: "cdc",
		Options: map[string]any{
			"tls": map[string]any{"enable": true, "serverName": "nats.internal"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, secure.tls)
	assert.Equal(t, "nats.internal", secure.tls.ServerName)
	assert.Len(t, secure.options(), len(plain.options())+1)

	_, err = NewDialer(broker.Config{
		Exchange: "cdc",
		Options: map[string]any{
			"tls": map[string]any{"enable": true, "caFile": filepath.Join(t.TempDir(), "missing.pem")},
		},
	})
	assert.ErrorContains(t, err, "nats tls")
}

func TestNewMsg(t *testing.T) {
	m := newMsg("cdc", broker.Message{
		RoutingKey:  "public.orders",
		Body:        []byte(`{"key":"[1]"}`),
		ContentType: "application/json",
		Timestamp:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Headers:     map[string]any{"attempt": 2},
	})

	assert.Equal(t, "cdc.public.orders", m.Subject)
	assert.Equal(t, `{"key":"[1]"}`, string(m.Data))
	assert.Equal(t, "application/json", m.Header.Get("Content-Type"))
	assert.Equal(t, "2024-01-02T03:04:05Z", m.Header.Get("Timestamp"))
	assert.Equal(t, "2", m.Header.Get("attempt"))
}

func TestStreamConfigEqual(t *testing.T) {
	a := nats.StreamConfig{Name: "s", Subjects: []string{"cdc.>"}, Storage: nats.FileStorage, Replicas: 1}
	b := a
	assert.True(t, streamConfigEqual(a, b))

	b.Subjects = []string{"other.>"}
	assert.False(t, streamConfigEqual(a, b))
}

func TestPublishIntegration(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" || testing.Short() {
		t.Skip("TEST_NATS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d, err := NewDialer(broker.Config{URL: url, Exchange: "cfbridge_test"})
	require.NoError(t, err)

	ch, err := d.Dial(ctx)
	require.NoError(t, err)
	defer ch.Close()
	assert.True(t, ch.Connected())

	require.NoError(t, ch.Publish(ctx, "cfbridge_test", broker.Message{
		RoutingKey: "orders",
		Body:       []byte(`{"key":"[1]","value":{}}`),
		MessageID:  "cfbridge-test-1",
	}))
}
