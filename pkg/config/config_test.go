package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, DefaultWizardHost, cfg.WizardHost)
	assert.Equal(t, DefaultWizardPort, cfg.WizardPort)
	assert.Equal(t, DefaultUpdateInterval, cfg.UpdateInterval)
	assert.Equal(t, DefaultNodeHost, cfg.KaspaNodeHost)
	assert.Equal(t, DefaultNodePort, cfg.KaspaNodePort)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WIZARD_PORT", "9090")
	t.Setenv("UPDATE_INTERVAL_MS", "1500")
	t.Setenv("KASPA_NODE_HOST", "10.0.0.5")
	t.Setenv("LOG_JSON", "false")

	cfg := Load()
	assert.Equal(t, 9090, cfg.WizardPort)
	assert.Equal(t, 1500*time.Millisecond, cfg.UpdateInterval)
	assert.Equal(t, "10.0.0.5", cfg.KaspaNodeHost)
	assert.False(t, cfg.LogJSON)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("WIZARD_PORT", "not-a-number")
	t.Setenv("UPDATE_INTERVAL_MS", "-5")

	cfg := Load()
	assert.Equal(t, DefaultWizardPort, cfg.WizardPort)
	assert.Equal(t, DefaultUpdateInterval, cfg.UpdateInterval)
}
