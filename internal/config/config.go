package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/syntrixbase/stagehand/internal/core/cache"
	storage "github.com/syntrixbase/stagehand/internal/core/storage/config"
	"github.com/syntrixbase/stagehand/internal/dispatch"
	"github.com/syntrixbase/stagehand/internal/lifecycle"
	"github.com/syntrixbase/stagehand/internal/logging"
	"github.com/syntrixbase/stagehand/internal/orchestrator"
	"github.com/syntrixbase/stagehand/internal/server"
	"github.com/syntrixbase/stagehand/internal/transport/mq"
)

const (
	mainFile  = "config.yml"
	localFile = "config.local.yml"
)

// Config holds the application configuration
type Config struct {
	Server   server.Config       `yaml:"server"`
	Storage  storage.Config      `yaml:"storage"`
	Cache    cache.Config        `yaml:"cache"`
	Dispatch dispatch.Config     `yaml:"dispatch"`
	MQ       mq.Config           `yaml:"mq"`
	Pipeline orchestrator.Config `yaml:"pipeline"`
	Shutdown lifecycle.Config    `yaml:"shutdown"`
	Logging  logging.Config      `yaml:"logging"`
}

// Default returns a configuration holding every section's defaults.
func Default() *Config {
	return &Config{
		Server:   server.DefaultConfig(),
		Storage:  storage.DefaultConfig(),
		Cache:    cache.DefaultConfig(),
		Dispatch: dispatch.DefaultConfig(),
		MQ:       mq.DefaultConfig(),
		Pipeline: orchestrator.DefaultConfig(),
		Shutdown: lifecycle.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
	}
}

// LoadConfig loads configuration from files in configDir and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults -> ApplyEnvOverrides -> ResolvePaths -> Validate
func LoadConfig(configDir string) (*Config, error) {
	// Defaults first so YAML can override them, including bool fields.
	cfg := Default()

	if err := loadFile(filepath.Join(configDir, mainFile), cfg); err != nil {
		return nil, err
	}
	if err := loadFile(filepath.Join(configDir, localFile), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Apply(configDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply runs the configuration lifecycle over every section.
func (c *Config) Apply(configDir string) error {
	err := ApplyServiceConfigs(configDir,
		&c.Logging,
		&c.Server,
		&c.Storage,
		&c.Cache,
		&c.Dispatch,
		&c.MQ,
		&c.Pipeline,
		&c.Shutdown,
	)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return nil
}

// loadFile merges filename into cfg. A missing file is skipped.
func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}
