package cache

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config selects the cache variant.
type Config struct {
	// Enabled switches from the pass-through cache to the in-memory one.
	Enabled bool `yaml:"enabled"`
	// TTL bounds how long a result may be served without re-reading the store.
	TTL time.Duration `yaml:"ttl"`
	// Size is the maximum number of cached query results.
	Size int `yaml:"size"`
}

func DefaultConfig() Config {
	return Config{
		Enabled: false,
		TTL:     2 * time.Second,
		Size:    1000,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.TTL == 0 {
		c.TTL = d.TTL
	}
	if c.Size == 0 {
		c.Size = d.Size
	}
}

func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("STAGEHAND_CACHE_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Enabled = b
		}
	}
}

func (c *Config) ResolvePaths(_ string) {}

func (c *Config) Validate() error {
	if c.Enabled && c.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when the cache is enabled")
	}
	if c.Size < 0 {
		return fmt.Errorf("cache.size must not be negative")
	}
	return nil
}

// New returns the variant selected by cfg.
func New(cfg Config) Cache {
	if !cfg.Enabled {
		return NoopCache{}
	}
	return NewMemoryCache(cfg.Size, cfg.TTL)
}
