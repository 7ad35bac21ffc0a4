/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ssargent/fmntools/pkg/device"
)

// Config represents the fmntools configuration
type Config struct {
	Device       string          `yaml:"device"`
	SettingsBase string          `yaml:"settings_base"`
	OutputPath   string          `yaml:"output_path"`
	JournalDir   string          `yaml:"journal_dir"`
	MetricsFile  string          `yaml:"metrics_file"`
	Devices      []device.Family `yaml:"devices"`
	Logging      Logging         `yaml:"logging"`
}

// Logging contains logging configuration
type Logging struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		OutputPath: "provisioned.hex",
		Logging: Logging{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from the specified path. Missing fields
// keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if _, err := config.SlogLevel(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Registry builds the device table with the configured families
func (c *Config) Registry() (*device.Registry, error) {
	return device.NewRegistry(c.Devices...)
}

// SlogLevel maps the configured level name to a slog level
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./fmntools.yaml"
	}

	// For Linux/macOS, use ~/.config/fmntools/config.yaml
	configDir := filepath.Join(homeDir, ".config", "fmntools")
	return filepath.Join(configDir, "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}

// JournalPath returns the configured journal directory, or the journal
// directory next to the default config file when none is configured
func (c *Config) JournalPath() string {
	if c.JournalDir != "" {
		return c.JournalDir
	}
	return filepath.Join(filepath.Dir(GetDefaultConfigPath()), "journal")
}
