package transport

import (
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// RetryConfig bounds the retries of a single Send.
type RetryConfig struct {
	MaxAttempts  int
	RetryDelay   time.Duration
	TotalTimeout time.Duration
}

// Config is captured when the transport is created and never changes
// afterwards.
type Config struct {
	// PollTimeout is how often the background loop re-checks the running
	// flag when no traffic arrives.
	PollTimeout     time.Duration
	ConnectTimeout  time.Duration
	ShutdownTimeout time.Duration
	SendTimeout     time.Duration
	RecvTimeout     time.Duration

	// Linger is how long Close waits for the close handshake on the
	// outbound channel. Zero discards it.
	Linger time.Duration

	MaxMessageSize int64
	Retry          RetryConfig

	Logger  *zap.Logger
	Metrics metrics.Registry
}

func DefaultConfig() Config {
	return Config{
		PollTimeout:     50 * time.Millisecond,
		ConnectTimeout:  5 * time.Second,
		ShutdownTimeout: 2 * time.Second,
		SendTimeout:     1 * time.Second,
		RecvTimeout:     5 * time.Second,
		Linger:          0,
		MaxMessageSize:  64 * 1024,
		Retry: RetryConfig{
			MaxAttempts:  3,
			RetryDelay:   10 * time.Millisecond,
			TotalTimeout: 1 * time.Second,
		},
	}
}

// withDefaults fills zero values from DefaultConfig. Linger keeps its
// zero value.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = d.RecvTimeout
	}
	if c.Linger < 0 {
		c.Linger = 0
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if c.Retry.RetryDelay < 0 {
		c.Retry.RetryDelay = 0
	}
	if c.Retry.TotalTimeout <= 0 {
		c.Retry.TotalTimeout = d.Retry.TotalTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewRegistry()
	}
	return c
}
