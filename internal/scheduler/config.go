// Package scheduler runs the step graph on a bounded worker pool.
package scheduler

import (
	"time"

	"github.com/fentz26/showerflow/internal/config"
)

// Config defines the scheduler configuration.
type Config struct {
	// Workers is the size of the worker pool.
	Workers int `yaml:"workers"`
	// Continue enables skipping steps whose input is unchanged.
	Continue bool `yaml:"continue"`
	// PollInterval is how often waiting steps wake up.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:      1,
		PollInterval: 30 * time.Second,
	}
}

// FromRun derives the scheduler configuration from a run document.
func FromRun(cfg *config.Config, continueMode bool) *Config {
	return &Config{
		Workers:      cfg.ProcessCount(),
		Continue:     continueMode,
		PollInterval: cfg.Tuning.PollInterval,
	}
}
