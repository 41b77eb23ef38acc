package mqtt

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/cfbridge/pkg/util"
	"github.com/edgeflare/cfbridge/pkg/util/rand"
)

const (
	DefaultServer         = "tcp://127.0.0.1:1883"
	DefaultConnectTimeout = 30 * time.Second
	DefaultPublishTimeout = 30 * time.Second
)

// Config holds the connector options.
type Config struct {
	TLS      *util.TLSConfig `json:"tls,omitempty"`
	ClientID string          `json:"clientID"`
	Username string          `json:"username"`
	Password string          `json:"password"`
	Servers  []string        `json:"servers"`
	// KeepAlive is in seconds.
	KeepAlive      int64         `json:"keepAlive"`
	ConnectTimeout time.Duration `json:"connectTimeout"`
	PublishTimeout time.Duration `json:"publishTimeout"`
	QoS            byte          `json:"qos"`
	Retained       bool          `json:"retained"`
	CleanSession   bool          `json:"cleanSession"`
}

func (c *Config) setDefaults(url string) {
	if len(c.Servers) == 0 && url != "" {
		c.Servers = strings.Split(url, ",")
	}
	if len(c.Servers) == 0 {
		c.Servers = []string{DefaultServer}
	}
	c.ClientID = cmp.Or(c.ClientID, rand.NewClientID("cfbridge"))
	c.ConnectTimeout = cmp.Or(c.ConnectTimeout, DefaultConnectTimeout)
	c.PublishTimeout = cmp.Or(c.PublishTimeout, DefaultPublishTimeout)
	// QoS 0 has no acknowledgement
	if c.QoS == 0 {
		c.QoS = 1
	}
}

// pahoOptions converts c to paho client options. Automatic reconnects are
// off: the broker session checks the connection and redials.
func (c *Config) pahoOptions() (*mqtt.ClientOptions, error) {
	if c.QoS > 2 {
		return nil, fmt.Errorf("invalid qos %d", c.QoS)
	}

	opts := mqtt.NewClientOptions()
	for _, server := range c.Servers {
		opts.AddBroker(server)
	}

	opts.SetClientID(c.ClientID)
	if c.Username != "" {
		opts.SetUsername(c.Username)
	}
	if c.Password != "" {
		opts.SetPassword(c.Password)
	}

	tlsConfig, err := c.TLS.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	if c.KeepAlive > 0 {
		opts.SetKeepAlive(time.Duration(c.KeepAlive) * time.Second)
	}
	opts.SetConnectTimeout(c.ConnectTimeout)
	opts.SetCleanSession(c.CleanSession)
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	return opts, nil
}
