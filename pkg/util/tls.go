package util

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSConfig holds TLS settings for broker connections. Certificates may be
// given as file paths or inline PEM.
type TLSConfig struct {
	ServerName         string `json:"serverName,omitempty"`
	CAFile             string `json:"caFile,omitempty"`
	CertFile           string `json:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty"`
	CACert             string `json:"caCert,omitempty"`
	ClientCert         string `json:"clientCert,omitempty"`
	ClientKey          string `json:"clientKey,omitempty"`
	Enable             bool   `json:"enable"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify"`
}

// Load builds a *tls.Config. It returns nil when c is nil or not enabled.
func (c *TLSConfig) Load() (*tls.Config, error) {
	if c == nil || !c.Enable {
		return nil, nil
	}

	config := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
		ServerName:         c.ServerName,
		MinVersion:         tls.VersionTLS12,
	}

	if c.CAFile != "" || c.CACert != "" {
		caCert := []byte(c.CACert)
		if c.CAFile != "" {
			var err error
			if caCert, err = os.ReadFile(c.CAFile); err != nil {
				return nil, fmt.Errorf("failed to read CA file: %w", err)
			}
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		config.RootCAs = pool
	}

	var (
		cert tls.Certificate
		err  error
	)
	switch {
	case c.CertFile != "" && c.KeyFile != "":
		cert, err = tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	case c.ClientCert != "" && c.ClientKey != "":
		cert, err = tls.X509KeyPair([]byte(c.ClientCert), []byte(c.ClientKey))
	default:
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	config.Certificates = []tls.Certificate{cert}

	return config, nil
}
