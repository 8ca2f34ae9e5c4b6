package dispatch

import (
	"fmt"
	"time"
)

// Config contains dispatch protocol settings
type Config struct {
	// OperationTimeout bounds every store call made on behalf of a request
	OperationTimeout time.Duration `yaml:"operation_timeout"`
	// PerformanceLogging emits one timing line per handled mark request
	PerformanceLogging bool `yaml:"performance_logging"`
	// Workers is the number of goroutines serving queued requests
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the default dispatch configuration
func DefaultConfig() Config {
	return Config{
		OperationTimeout: 10 * time.Second,
		Workers:          8,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.OperationTimeout == 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
}

func (c *Config) ApplyEnvOverrides() {}

func (c *Config) ResolvePaths(_ string) {}

func (c *Config) Validate() error {
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("dispatch.operation_timeout must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be positive")
	}
	return nil
}
