package guestgc

import (
	"fmt"
	"time"
)

const (
	DefaultGracePeriod      = 14 * 24 * time.Hour
	MinGracePeriod          = 24 * time.Hour
	DefaultDelay            = 2 * time.Second
	DefaultSweepInterval    = 24 * time.Hour
	MinSweepInterval        = time.Hour
	DefaultMaxRetries       = 3
	DefaultRetryBase        = time.Second
	DefaultRetryIncrement   = 2 * time.Second
	DefaultProgressInterval = 10 * time.Second
	DefaultShutdownTimeout  = 5 * time.Second
)

type Config struct {
	// GracePeriod of zero deletes share-less named guests immediately.
	GracePeriod time.Duration
	Delay       time.Duration
	// MaxDelay of zero lets equal tasks coalesce until producers go quiet.
	MaxDelay time.Duration

	// SweepInterval of zero disables the periodic sweep.
	SweepInterval     time.Duration
	SweepInitialDelay time.Duration
	MaxRetries        int
	RetryBase         time.Duration
	RetryIncrement    time.Duration
	ProgressInterval  time.Duration

	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		GracePeriod:       DefaultGracePeriod,
		Delay:             DefaultDelay,
		SweepInterval:     DefaultSweepInterval,
		SweepInitialDelay: time.Minute,
		MaxRetries:        DefaultMaxRetries,
		RetryBase:         DefaultRetryBase,
		RetryIncrement:    DefaultRetryIncrement,
		ProgressInterval:  DefaultProgressInterval,
		ShutdownTimeout:   DefaultShutdownTimeout,
	}
}

// Normalize clamps values to their allowed ranges and returns a description
// of every adjustment made.
func (c *Config) Normalize() []string {
	var adjusted []string
	clamp := func(name string, v *time.Duration, to time.Duration) {
		adjusted = append(adjusted, fmt.Sprintf("%s %s raised to %s", name, *v, to))
		*v = to
	}
	if c.GracePeriod < 0 {
		clamp("grace period", &c.GracePeriod, 0)
	} else if c.GracePeriod > 0 && c.GracePeriod < MinGracePeriod {
		clamp("grace period", &c.GracePeriod, MinGracePeriod)
	}
	if c.Delay < 0 {
		clamp("cleanup delay", &c.Delay, 0)
	}
	if c.MaxDelay < 0 {
		clamp("max cleanup delay", &c.MaxDelay, 0)
	}
	if c.SweepInterval < 0 {
		clamp("sweep interval", &c.SweepInterval, 0)
	} else if c.SweepInterval > 0 && c.SweepInterval < MinSweepInterval {
		clamp("sweep interval", &c.SweepInterval, MinSweepInterval)
	}
	if c.SweepInitialDelay < 0 {
		clamp("sweep initial delay", &c.SweepInitialDelay, 0)
	}
	if c.MaxRetries < 0 {
		adjusted = append(adjusted, fmt.Sprintf("sweep max retries %d raised to 0", c.MaxRetries))
		c.MaxRetries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.RetryIncrement <= 0 {
		c.RetryIncrement = DefaultRetryIncrement
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return adjusted
}
