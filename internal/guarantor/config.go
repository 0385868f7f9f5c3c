package guarantor

import "time"

// Config defines the watchdog timing and escalation parameters.
type Config struct {
	// InitialTimeout is the first per-transition deadline. Kept shorter than
	// the machine's own safety timeout so the watchdog recovers first.
	InitialTimeout time.Duration `yaml:"initial_timeout"`
	// BackoffFactor scales the deadline on each escalation.
	BackoffFactor float64 `yaml:"backoff_factor"`
	// MaxTimeout caps the escalated deadline.
	MaxTimeout time.Duration `yaml:"max_timeout"`
	// MaxAttempts is the number of non-override recovery attempts before the
	// unconditional direct override.
	MaxAttempts int `yaml:"max_attempts"`
	// SweepInterval is the period of the orphan-detection sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// OverdueFactor scales a transition's deadline to the point where the
	// sweep force-escalates it even if its own timer has not fired.
	OverdueFactor float64 `yaml:"overdue_factor"`
	// HistoryLimit bounds the archived transition ring.
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultConfig returns the default watchdog configuration.
func DefaultConfig() *Config {
	return &Config{
		InitialTimeout: 5 * time.Second,
		BackoffFactor:  1.5,
		MaxTimeout:     15 * time.Second,
		MaxAttempts:    3,
		SweepInterval:  2 * time.Second,
		OverdueFactor:  2.0,
		HistoryLimit:   50,
	}
}
