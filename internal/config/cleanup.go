package config

import (
	"time"

	"guest-gc/internal/guestgc"

	"github.com/caarlos0/env/v11"
)

type CleanupConfig struct {
	GracePeriod time.Duration `env:"GUEST_GRACE_PERIOD" envDefault:"336h"`
	Delay       time.Duration `env:"GUEST_CLEANUP_DELAY" envDefault:"2s"`
	MaxDelay    time.Duration `env:"GUEST_CLEANUP_MAX_DELAY" envDefault:"0s"`

	SweepInterval     time.Duration `env:"GUEST_SWEEP_INTERVAL" envDefault:"24h"`
	SweepInitialDelay time.Duration `env:"GUEST_SWEEP_INITIAL_DELAY" envDefault:"1m"`
	MaxRetries        int           `env:"GUEST_SWEEP_MAX_RETRIES" envDefault:"3"`
	RetryBase         time.Duration `env:"GUEST_SWEEP_RETRY_BASE" envDefault:"1s"`
	RetryIncrement    time.Duration `env:"GUEST_SWEEP_RETRY_INCREMENT" envDefault:"2s"`
	ProgressInterval  time.Duration `env:"GUEST_SWEEP_PROGRESS_INTERVAL" envDefault:"10s"`

	ShutdownTimeout time.Duration `env:"GUEST_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

func LoadCleanup() (CleanupConfig, error) {
	var cfg CleanupConfig
	err := env.Parse(&cfg)
	return cfg, err
}

// Collector converts the env settings into collector config. Clamping is left
// to the collector.
func (c CleanupConfig) Collector() guestgc.Config {
	return guestgc.Config{
		GracePeriod:       c.GracePeriod,
		Delay:             c.Delay,
		MaxDelay:          c.MaxDelay,
		SweepInterval:     c.SweepInterval,
		SweepInitialDelay: c.SweepInitialDelay,
		MaxRetries:        c.MaxRetries,
		RetryBase:         c.RetryBase,
		RetryIncrement:    c.RetryIncrement,
		ProgressInterval:  c.ProgressInterval,
		ShutdownTimeout:   c.ShutdownTimeout,
	}
}
