package mq

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Config contains the asynchronous transport settings.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// Backend is "nats" or "memory". The memory broker only serves workers
	// inside the same process.
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
	// Prefix namespaces every subject, e.g. "<prefix>.core".
	Prefix         string `yaml:"prefix"`
	ConnectRetries uint64 `yaml:"connect_retries"`
	ChannelBufSize int    `yaml:"channel_buf_size"`
}

// DefaultConfig returns default MQ configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		Backend:        "nats",
		URL:            "nats://localhost:4222",
		Prefix:         "stagehand",
		ConnectRetries: 5,
		ChannelBufSize: 100,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Backend == "" {
		c.Backend = defaults.Backend
	}
	if c.URL == "" {
		c.URL = defaults.URL
	}
	if c.Prefix == "" {
		c.Prefix = defaults.Prefix
	}
	if c.ChannelBufSize <= 0 {
		c.ChannelBufSize = defaults.ChannelBufSize
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("STAGEHAND_NATS_URL"); val != "" {
		c.URL = val
	}
	if val := os.Getenv("STAGEHAND_MQ_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Enabled = enabled
		}
	}
}

// ResolvePaths resolves relative paths using the given base directory.
// No paths to resolve in mq config.
func (c *Config) ResolvePaths(_ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.Backend != "nats" && c.Backend != "memory" {
		return errors.New("mq.backend must be 'nats' or 'memory'")
	}
	if c.Prefix == "" || strings.ContainsAny(c.Prefix, "*> ") {
		return errors.New("mq.prefix must be a plain subject token")
	}
	if c.Enabled && c.Backend == "nats" && c.URL == "" {
		return errors.New("mq.url is required for the nats backend")
	}
	return nil
}
