package kafka

import (
	"cmp"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/edgeflare/cfbridge/pkg/util"
)

// Config holds the connector options.
type Config struct {
	SASL     *SASL           `json:"sasl,omitempty"`
	TLS      *util.TLSConfig `json:"tls,omitempty"`
	ClientID string          `json:"clientID"`
	Version  string          `json:"version,omitempty"`
	Brokers  []string        `json:"brokers"`
	// Timeout bounds one produce request, including the wait for all
	// in-sync replicas.
	Timeout time.Duration `json:"timeout"`
}

// SASL represents SASL/SCRAM authentication configuration.
type SASL struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// Algorithm is sha256 or sha512.
	Algorithm string `json:"algorithm"`
	Enable    bool   `json:"enable"`
}

// ToSaramaConfig converts the Config to a sarama.Config. Every produced
// message waits for all in-sync replicas.
func (c *Config) ToSaramaConfig() (*sarama.Config, error) {
	conf := sarama.NewConfig()

	version, err := sarama.ParseKafkaVersion(cmp.Or(c.Version, sarama.DefaultVersion.String()))
	if err != nil {
		return nil, fmt.Errorf("error parsing Kafka version: %w", err)
	}
	conf.Version = version

	if c.SASL != nil && c.SASL.Enable {
		conf.Net.SASL.Enable = true
		conf.Net.SASL.User = c.SASL.Username
		conf.Net.SASL.Password = c.SASL.Password
		conf.Net.SASL.Handshake = true

		switch c.SASL.Algorithm {
		case "sha512", "":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA512} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		case "sha256":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA256} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		default:
			return nil, fmt.Errorf("invalid SASL algorithm: %s", c.SASL.Algorithm)
		}
	}

	tlsConfig, err := c.TLS.Load()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = tlsConfig
	}

	conf.ClientID = cmp.Or(c.ClientID, "cfbridge")
	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true
	// retries belong to the broker session
	conf.Producer.Retry.Max = 0
	conf.Producer.Timeout = cmp.Or(c.Timeout, 10*time.Second)
	conf.Metadata.Full = false

	return conf, nil
}
