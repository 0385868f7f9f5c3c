// Package config loads the nightshift YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/nightshift/internal/guarantor"
	"github.com/fentz26/nightshift/internal/phase"
	"github.com/fentz26/nightshift/internal/resolver"
	"gopkg.in/yaml.v3"
)

// Config is the file-level configuration. Durations are expressed in
// milliseconds so the file stays plain YAML integers.
type Config struct {
	// Listen is the admin API address.
	Listen string `yaml:"listen"`
	// DBPath is the diagnostics database location.
	DBPath string `yaml:"db_path"`

	Phase     PhaseConfig     `yaml:"phase"`
	Guarantor GuarantorConfig `yaml:"guarantor"`
	Resolver  ResolverConfig  `yaml:"resolver"`
}

// PhaseConfig configures the state machine timings.
type PhaseConfig struct {
	TransitionTimeoutMS int     `yaml:"transition_timeout_ms"`
	StuckMultiplier     float64 `yaml:"stuck_multiplier"`
	HistoryLimit        int     `yaml:"history_limit"`
}

// GuarantorConfig configures the watchdog.
type GuarantorConfig struct {
	InitialTimeoutMS int     `yaml:"initial_timeout_ms"`
	BackoffFactor    float64 `yaml:"backoff_factor"`
	MaxTimeoutMS     int     `yaml:"max_timeout_ms"`
	MaxAttempts      int     `yaml:"max_attempts"`
	SweepIntervalMS  int     `yaml:"sweep_interval_ms"`
	OverdueFactor    float64 `yaml:"overdue_factor"`
	HistoryLimit     int     `yaml:"history_limit"`
}

// ResolverConfig configures the consistency rules.
type ResolverConfig struct {
	JournalNodes   []string `yaml:"journal_nodes"`
	BaselineTier   string   `yaml:"baseline_tier"`
	RepairLogLimit int      `yaml:"repair_log_limit"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Listen: "127.0.0.1:7331",
		DBPath: filepath.Join(homeDir, ".nightshift", "nightshift.db"),
	}
}

// Load reads a config file, layering it over the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromHome loads ~/.nightshift/config.yaml, falling back to defaults if
// the file does not exist.
func LoadFromHome() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}
	path := filepath.Join(homeDir, ".nightshift", "config.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// PhaseConfig builds the state machine config, filling unset fields with the
// package defaults.
func (c *Config) PhaseConfig() *phase.Config {
	cfg := phase.DefaultConfig()
	if c.Phase.TransitionTimeoutMS > 0 {
		cfg.TransitionTimeout = time.Duration(c.Phase.TransitionTimeoutMS) * time.Millisecond
	}
	if c.Phase.StuckMultiplier > 0 {
		cfg.StuckMultiplier = c.Phase.StuckMultiplier
	}
	if c.Phase.HistoryLimit > 0 {
		cfg.HistoryLimit = c.Phase.HistoryLimit
	}
	return cfg
}

// GuarantorConfig builds the watchdog config, filling unset fields with the
// package defaults.
func (c *Config) GuarantorConfig() *guarantor.Config {
	cfg := guarantor.DefaultConfig()
	if c.Guarantor.InitialTimeoutMS > 0 {
		cfg.InitialTimeout = time.Duration(c.Guarantor.InitialTimeoutMS) * time.Millisecond
	}
	if c.Guarantor.BackoffFactor > 0 {
		cfg.BackoffFactor = c.Guarantor.BackoffFactor
	}
	if c.Guarantor.MaxTimeoutMS > 0 {
		cfg.MaxTimeout = time.Duration(c.Guarantor.MaxTimeoutMS) * time.Millisecond
	}
	if c.Guarantor.MaxAttempts > 0 {
		cfg.MaxAttempts = c.Guarantor.MaxAttempts
	}
	if c.Guarantor.SweepIntervalMS > 0 {
		cfg.SweepInterval = time.Duration(c.Guarantor.SweepIntervalMS) * time.Millisecond
	}
	if c.Guarantor.OverdueFactor > 0 {
		cfg.OverdueFactor = c.Guarantor.OverdueFactor
	}
	if c.Guarantor.HistoryLimit > 0 {
		cfg.HistoryLimit = c.Guarantor.HistoryLimit
	}
	return cfg
}

// ResolverConfig builds the resolver config, filling unset fields with the
// package defaults.
func (c *Config) ResolverConfig() *resolver.Config {
	cfg := resolver.DefaultConfig()
	if len(c.Resolver.JournalNodes) > 0 {
		cfg.JournalNodes = c.Resolver.JournalNodes
	}
	if c.Resolver.BaselineTier != "" {
		cfg.BaselineTier = c.Resolver.BaselineTier
	}
	if c.Resolver.RepairLogLimit > 0 {
		cfg.RepairLogLimit = c.Resolver.RepairLogLimit
	}
	return cfg
}
