// Package config loads the daemon configuration from the crewdeck home
// directory and watches it for changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	otelPkg "github.com/basket/crewdeck/internal/otel"
)

// Config is the daemon configuration, read from <home>/config.yaml.
// Missing fields fall back to defaults; a missing file is not an error.
type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`
	DBPath   string `yaml:"db_path"`

	// AgentTypes is the recognized agent identity set used by lineage
	// verification. Empty uses the built-in defaults.
	AgentTypes []string `yaml:"agent_types"`

	// RegistryRetentionHours bounds how long completed registry rows
	// survive before pruning. Zero means 24 hours.
	RegistryRetentionHours int `yaml:"registry_retention_hours"`

	// PruneSchedule is a 5-field cron expression for the retention pass.
	PruneSchedule string `yaml:"prune_schedule"`

	Otel otelPkg.Config `yaml:"otel"`
}

// HomeDir resolves the crewdeck home directory: $CREWDECK_HOME or
// ~/.crewdeck.
func HomeDir() string {
	if dir := os.Getenv("CREWDECK_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".crewdeck")
}

// Load reads <home>/config.yaml, applying defaults.
func Load() (Config, error) {
	var cfg Config
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("create home dir: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.HomeDir, "crewdeck.db")
	}
	if c.RegistryRetentionHours <= 0 {
		c.RegistryRetentionHours = 24
	}
	if c.PruneSchedule == "" {
		c.PruneSchedule = "*/10 * * * *"
	}
}

// RegistryRetention returns the retention window as a duration.
func (c *Config) RegistryRetention() time.Duration {
	return time.Duration(c.RegistryRetentionHours) * time.Hour
}

// AllowlistDir returns the directory holding per-workspace allowlist files.
func (c *Config) AllowlistDir() string {
	return filepath.Join(c.HomeDir, "allowlists")
}

// SummaryDir returns the directory receiving regenerated plan summaries.
func (c *Config) SummaryDir() string {
	return filepath.Join(c.HomeDir, "summaries")
}
