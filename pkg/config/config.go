package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the controller's own environment.
const (
	DefaultWizardHost     = "0.0.0.0"
	DefaultWizardPort     = 8282
	DefaultDashboardPort  = 8080
	DefaultProjectRoot    = "."
	DefaultUpdateInterval = 5 * time.Second
	DefaultHiddenInterval = 20 * time.Second
	DefaultNodeHost       = "localhost"
	DefaultNodePort       = 16110
)

// Config is the controller's process configuration, read from the
// environment with an optional .env overlay.
type Config struct {
	WizardHost    string
	WizardPort    int
	DashboardPort int
	Version       string

	ProjectRoot string
	DataDir     string

	UpdateInterval time.Duration
	HiddenInterval time.Duration

	KaspaNodeHost  string
	KaspaNodePort  int
	PublicNodeURL  string
	LogLevel       string
	LogJSON        bool
	EmergencyAllow []string
}

// Load reads configuration from the process environment. A .env file next to
// the working directory is merged in first without overriding real
// environment variables.
func Load() *Config {
	// Missing .env is the normal case outside a project checkout.
	_ = godotenv.Load()

	cfg := &Config{
		WizardHost:     envString("WIZARD_HOST", DefaultWizardHost),
		WizardPort:     envInt("WIZARD_PORT", DefaultWizardPort),
		DashboardPort:  envInt("DASHBOARD_PORT", DefaultDashboardPort),
		Version:        envString("WIZARD_VERSION", "dev"),
		ProjectRoot:    envString("PROJECT_ROOT", DefaultProjectRoot),
		UpdateInterval: envDurationMs("UPDATE_INTERVAL_MS", DefaultUpdateInterval),
		HiddenInterval: envDurationMs("HIDDEN_TAB_INTERVAL_MS", DefaultHiddenInterval),
		KaspaNodeHost:  envString("KASPA_NODE_HOST", DefaultNodeHost),
		KaspaNodePort:  envInt("KASPA_NODE_PORT", DefaultNodePort),
		PublicNodeURL:  envString("PUBLIC_NODE_URL", ""),
		LogLevel:       envString("LOG_LEVEL", "info"),
		LogJSON:        envBool("LOG_JSON", true),
		EmergencyAllow: envList("EMERGENCY_ALLOWLIST"),
	}
	cfg.DataDir = envString("DATA_DIR", cfg.ProjectRoot+"/.kaspa-aio")
	return cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// envList parses a comma-separated list; an unset key returns nil so callers
// can distinguish "not configured" from an explicit empty list.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envDurationMs(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
