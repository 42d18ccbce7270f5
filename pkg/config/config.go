// Package config provides configuration loading and management for mripatch3d.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"mripatch3d/pkg/patching"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Patching parameters
	Patching struct {
		// CubeSize is the edge length of every extracted 3D patch
		CubeSize int `yaml:"cubeSize"`

		// Margin is the border trimmed from each patch face before
		// reassembly; evaluation stride is cubeSize - 2*margin
		Margin int `yaml:"margin"`

		// BatchSize is the number of patch pairs per yielded mini-batch
		BatchSize int `yaml:"batchSize"`

		// Usage is the fraction of training patches to sample, in (0, 1]
		Usage float64 `yaml:"usage"`

		// Seed seeds the training-mode shuffle; 0 means time-based
		Seed int64 `yaml:"seed"`
	} `yaml:"patching"`

	// Volume parameters
	Volume struct {
		// Size is the per-subject scan shape as [depth, height, width]
		Size [3]int `yaml:"size"`

		// Padding is the symmetric zero border per axis used by
		// evaluation-mode tiling, as [depth, height, width]
		Padding [3]int `yaml:"padding"`
	} `yaml:"volume"`

	// Output parameters
	Output struct {
		// Verbose controls the level of progress output
		Verbose bool `yaml:"verbose"`

		// ParallelDepatch reassembles subjects in parallel goroutines
		ParallelDepatch bool `yaml:"parallelDepatch"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	geom := patching.DefaultGeometry()

	// Set default patching parameters
	cfg.Patching.CubeSize = geom.CubeSize
	cfg.Patching.Margin = geom.Margin
	cfg.Patching.BatchSize = patching.DefaultBatchSize
	cfg.Patching.Usage = 1.0
	cfg.Patching.Seed = 0

	// Set default volume parameters
	cfg.Volume.Size = geom.VolumeSize
	cfg.Volume.Padding = geom.Padding

	// Set default output parameters
	cfg.Output.Verbose = true
	cfg.Output.ParallelDepatch = true

	return cfg
}

// Geometry converts the configured patching and volume parameters into a
// patching.Geometry value.
func (cfg *Config) Geometry() patching.Geometry {
	return patching.Geometry{
		CubeSize:   cfg.Patching.CubeSize,
		Margin:     cfg.Patching.Margin,
		VolumeSize: cfg.Volume.Size,
		Padding:    cfg.Volume.Padding,
	}
}

// Validate checks the configuration for contract violations: an inconsistent
// tiling geometry, an out-of-range usage fraction, or a non-positive batch
// size.
func (cfg *Config) Validate() error {
	if err := cfg.Geometry().Validate(); err != nil {
		return fmt.Errorf("invalid tiling geometry: %w", err)
	}
	if cfg.Patching.Usage <= 0 || cfg.Patching.Usage > 1 {
		return fmt.Errorf("usage must be in (0, 1], got %v", cfg.Patching.Usage)
	}
	if cfg.Patching.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", cfg.Patching.BatchSize)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Reject configurations whose padding does not tile the volume size
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
