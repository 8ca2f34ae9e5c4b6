package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// mockServiceConfig records which lifecycle steps ran, in order.
type mockServiceConfig struct {
	steps       []string
	baseDir     string
	validateErr error
}

func (m *mockServiceConfig) ApplyDefaults()     { m.steps = append(m.steps, "defaults") }
func (m *mockServiceConfig) ApplyEnvOverrides() { m.steps = append(m.steps, "env") }

func (m *mockServiceConfig) ResolvePaths(baseDir string) {
	m.steps = append(m.steps, "paths")
	m.baseDir = baseDir
}

func (m *mockServiceConfig) Validate() error {
	m.steps = append(m.steps, "validate")
	return m.validateErr
}

func TestApplyServiceConfigs_AllMethodsCalled(t *testing.T) {
	cfg1 := &mockServiceConfig{}
	cfg2 := &mockServiceConfig{}

	err := ApplyServiceConfigs("config", cfg1, cfg2)

	assert.NoError(t, err)
	for _, cfg := range []*mockServiceConfig{cfg1, cfg2} {
		assert.Equal(t, []string{"defaults", "env", "paths", "validate"}, cfg.steps)
		assert.Equal(t, "config", cfg.baseDir)
	}
}

func TestApplyServiceConfigs_ValidationError(t *testing.T) {
	cfg1 := &mockServiceConfig{validateErr: assert.AnError}
	cfg2 := &mockServiceConfig{}

	err := ApplyServiceConfigs("config", cfg1, cfg2)

	assert.Equal(t, assert.AnError, err)
	assert.Empty(t, cfg2.steps, "later sections are not processed")
}

func TestApplyServiceConfigs_EmptyList(t *testing.T) {
	assert.NoError(t, ApplyServiceConfigs("config"))
}
