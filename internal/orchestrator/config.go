package orchestrator

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Config contains the pipeline orchestrator settings.
type Config struct {
	// File is an optional pipeline definition imported at startup.
	File         string        `yaml:"file"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = DefaultConfig().PollInterval
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("STAGEHAND_PIPELINE_FILE"); val != "" {
		c.File = val
	}
}

// ResolvePaths resolves File relative to the config directory.
func (c *Config) ResolvePaths(baseDir string) {
	if c.File != "" && !filepath.IsAbs(c.File) {
		c.File = filepath.Join(baseDir, c.File)
	}
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.PollInterval < 0 {
		return errors.New("pipeline.poll_interval must not be negative")
	}
	return nil
}
