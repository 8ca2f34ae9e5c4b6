package lifecycle

import (
	"fmt"
	"os"
	"time"
)

// Config bounds the shutdown sequence.
type Config struct {
	// KillDelay is how long a graceful shutdown may run before the process
	// exits with status 1. A negative value disables the killer.
	KillDelay time.Duration `yaml:"kill_delay"`
	// StopTimeout bounds each component's Stop call.
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

func DefaultConfig() Config {
	return Config{
		KillDelay:   30 * time.Second,
		StopTimeout: 10 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.KillDelay == 0 {
		c.KillDelay = d.KillDelay
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = d.StopTimeout
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("STAGEHAND_KILL_DELAY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.KillDelay = d
		}
	}
}

func (c *Config) ResolvePaths(_ string) {}

func (c *Config) Validate() error {
	if c.StopTimeout < 0 {
		return fmt.Errorf("shutdown.stop_timeout must not be negative")
	}
	if c.KillDelay >= 0 && c.KillDelay < c.StopTimeout {
		return fmt.Errorf("shutdown.kill_delay (%s) must not be shorter than shutdown.stop_timeout (%s)", c.KillDelay, c.StopTimeout)
	}
	return nil
}
