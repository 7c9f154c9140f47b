package scheduler

import (
	"time"

	"github.com/smallbiznis/carbonledger/internal/config"
)

const (
	JobProvisionRates   = "provision_rates"
	JobReconcileLedgers = "reconcile_ledgers"
)

// Config controls which maintenance jobs run and how often.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	EnabledJobs []string
	JobTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: time.Hour,
		JobTimeout:  5 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Scheduler.Enabled,
		RunInterval: cfg.Scheduler.RunInterval,
		EnabledJobs: cfg.Scheduler.EnabledJobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
