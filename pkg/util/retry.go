package util

import (
	"cmp"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures capped exponential backoff between attempts.
type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initialInterval" json:"initialInterval"`
	MaxInterval     time.Duration `mapstructure:"maxInterval" json:"maxInterval"`
	// MaxElapsedTime bounds the total time spent retrying since the last
	// success. Zero retries forever.
	MaxElapsedTime time.Duration `mapstructure:"maxElapsedTime" json:"maxElapsedTime"`
	Multiplier     float64       `mapstructure:"multiplier" json:"multiplier"`
}

// DefaultRetryConfig retries from 500ms up to 30s between attempts, forever.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      backoff.DefaultMultiplier,
	}
}

// NewBackOff returns a started exponential backoff. Zero fields take the
// DefaultRetryConfig values, except MaxElapsedTime.
func (c RetryConfig) NewBackOff() *backoff.ExponentialBackOff {
	def := DefaultRetryConfig()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cmp.Or(c.InitialInterval, def.InitialInterval)
	b.MaxInterval = cmp.Or(c.MaxInterval, def.MaxInterval)
	b.Multiplier = cmp.Or(c.Multiplier, def.Multiplier)
	b.MaxElapsedTime = c.MaxElapsedTime
	b.Reset()
	return b
}
