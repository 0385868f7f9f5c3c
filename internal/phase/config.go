package phase

import "time"

// Config defines the state machine timing parameters.
type Config struct {
	// TransitionTimeout is how long the machine's own safety timer waits for
	// an explicit finalize before forcing a transition to complete.
	TransitionTimeout time.Duration `yaml:"transition_timeout"`
	// StuckMultiplier scales TransitionTimeout to the threshold used by
	// CheckForStuckTransitions.
	StuckMultiplier float64 `yaml:"stuck_multiplier"`
	// HistoryLimit bounds the in-memory transition record ring.
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultConfig returns the default state machine configuration.
func DefaultConfig() *Config {
	return &Config{
		TransitionTimeout: 10 * time.Second,
		StuckMultiplier:   1.5,
		HistoryLimit:      20,
	}
}
