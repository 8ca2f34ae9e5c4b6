package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	tests := []struct {
		name    string
		initial Config
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "empty config gets all defaults",
			initial: Config{},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "localhost", cfg.Host)
				assert.Equal(t, 8080, cfg.HTTPPort)
				assert.Equal(t, 10*time.Second, cfg.HTTPReadTimeout)
				assert.Equal(t, 30*time.Second, cfg.HTTPWriteTimeout)
				assert.Equal(t, 60*time.Second, cfg.HTTPIdleTimeout)
				assert.False(t, cfg.TrustProxyHeaders)
			},
		},
		{
			name: "partial config gets remaining defaults",
			initial: Config{
				Host:              "0.0.0.0",
				HTTPPort:          80,
				TrustProxyHeaders: true,
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "0.0.0.0", cfg.Host)
				assert.Equal(t, 80, cfg.HTTPPort)
				assert.True(t, cfg.TrustProxyHeaders)
				assert.Equal(t, 10*time.Second, cfg.HTTPReadTimeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			cfg.ApplyDefaults()
			tt.check(t, &cfg)
		})
	}
}

func TestConfig_ApplyEnvOverrides(t *testing.T) {
	t.Setenv("STAGEHAND_HTTP_HOST", "0.0.0.0")
	t.Setenv("STAGEHAND_HTTP_PORT", "9090")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9090, cfg.HTTPPort)

	t.Setenv("STAGEHAND_HTTP_PORT", "not-a-port")
	cfg.ApplyEnvOverrides()
	assert.Equal(t, 9090, cfg.HTTPPort)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.HTTPPort = 70000
	assert.Error(t, cfg.Validate())

	cfg.HTTPPort = 0
	assert.NoError(t, cfg.Validate(), "port 0 picks a free port")
}
