package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines configuration for the snapchat-export CLI.
type Config struct {
	CatalogPath     string        `yaml:"catalog"`
	OutputDir       string        `yaml:"output_dir"`
	Workers         int           `yaml:"workers"`
	Delay           time.Duration `yaml:"delay"`
	SkipExisting    bool          `yaml:"skip_existing"`
	EmbedTags       bool          `yaml:"embed_tags"`
	NoBundles       bool          `yaml:"no_bundles"`
	ExpiryThreshold time.Duration `yaml:"expiry_threshold"`
	Progress        bool          `yaml:"progress"`
	Retry           RetryConfig   `yaml:"retry"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Workers:         4,
		Delay:           time.Second,
		SkipExisting:    true,
		EmbedTags:       true,
		ExpiryThreshold: 6 * time.Hour,
		Retry: RetryConfig{
			Attempts: 5,
			Backoff:  time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	CatalogPath     string          `yaml:"catalog"`
	OutputDir       string          `yaml:"output_dir"`
	Workers         int             `yaml:"workers"`
	Delay           string          `yaml:"delay"`
	SkipExisting    *bool           `yaml:"skip_existing"`
	EmbedTags       *bool           `yaml:"embed_tags"`
	NoBundles       bool            `yaml:"no_bundles"`
	ExpiryThreshold string          `yaml:"expiry_threshold"`
	Progress        bool            `yaml:"progress"`
	Retry           yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts int    `yaml:"attempts"`
	Backoff  string `yaml:"backoff"`
}

// LoadFromFile loads configuration from a YAML file, filling unset
// fields from Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.CatalogPath != "" {
		cfg.CatalogPath = yc.CatalogPath
	}
	if yc.OutputDir != "" {
		cfg.OutputDir = yc.OutputDir
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.Delay != "" {
		d, err := time.ParseDuration(yc.Delay)
		if err != nil {
			return Config{}, fmt.Errorf("parse delay: %w", err)
		}
		cfg.Delay = d
	}
	if yc.SkipExisting != nil {
		cfg.SkipExisting = *yc.SkipExisting
	}
	if yc.EmbedTags != nil {
		cfg.EmbedTags = *yc.EmbedTags
	}
	cfg.NoBundles = yc.NoBundles
	if yc.ExpiryThreshold != "" {
		d, err := time.ParseDuration(yc.ExpiryThreshold)
		if err != nil {
			return Config{}, fmt.Errorf("parse expiry_threshold: %w", err)
		}
		cfg.ExpiryThreshold = d
	}
	cfg.Progress = yc.Progress
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the SNAP_EXPORT_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("SNAP_EXPORT_CATALOG"); v != "" {
		c.CatalogPath = v
	}
	if v := os.Getenv("SNAP_EXPORT_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("SNAP_EXPORT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SNAP_EXPORT_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("SNAP_EXPORT_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SNAP_EXPORT_DELAY: %w", err)
		}
		c.Delay = d
	}
	if v := os.Getenv("SNAP_EXPORT_SKIP_EXISTING"); v != "" {
		c.SkipExisting = v == "true" || v == "1"
	}
	if v := os.Getenv("SNAP_EXPORT_EMBED_TAGS"); v != "" {
		c.EmbedTags = v == "true" || v == "1"
	}
	if v := os.Getenv("SNAP_EXPORT_NO_BUNDLES"); v != "" {
		c.NoBundles = v == "true" || v == "1"
	}
	if v := os.Getenv("SNAP_EXPORT_EXPIRY_THRESHOLD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SNAP_EXPORT_EXPIRY_THRESHOLD: %w", err)
		}
		c.ExpiryThreshold = d
	}
	if v := os.Getenv("SNAP_EXPORT_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("SNAP_EXPORT_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SNAP_EXPORT_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("SNAP_EXPORT_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SNAP_EXPORT_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CatalogPath == "" {
		return errors.New("config: catalog path is required")
	}
	if c.OutputDir == "" {
		return errors.New("config: output dir is required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.Delay < 0 {
		return errors.New("config: delay must not be negative")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	return nil
}
