// Package config provides configuration loading and management for the
// memkit stress tool and the collection engine it drives.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Workers is the size of the collection worker pool
	// Defaults to the number of CPUs if not specified
	Workers int `yaml:"workers,omitempty"`

	// ObjectQueueCapacity bounds the per-worker closure frontier buffer
	// Defaults to the engine's built-in capacity if not specified
	ObjectQueueCapacity int `yaml:"objectQueueCapacity,omitempty"`

	// Heap configures the synthetic heap
	Heap HeapConfig `yaml:"heap"`

	// Stress configures the synthetic mutator workload
	Stress StressConfig `yaml:"stress,omitempty"`

	// Telemetry configures the metrics endpoint
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// HeapConfig defines the synthetic heap bounds
type HeapConfig struct {
	// LimitBytes is the heap capacity; allocation beyond it triggers a
	// collection
	LimitBytes uint64 `yaml:"limitBytes"`
}

// StressConfig defines the synthetic mutator workload shape
type StressConfig struct {
	// Mutators is the number of allocating mutator goroutines
	Mutators int `yaml:"mutators,omitempty"`

	// ObjectBytes is the size of each allocated object
	ObjectBytes uint64 `yaml:"objectBytes,omitempty"`

	// OutDegree is the number of random edges given to each new object
	OutDegree int `yaml:"outDegree,omitempty"`

	// LiveWindow is how many recent allocations each mutator keeps rooted
	LiveWindow int `yaml:"liveWindow,omitempty"`

	// Duration is how long the workload runs, e.g. "30s"
	Duration string `yaml:"duration,omitempty"`
}

// TelemetryConfig defines the metrics configuration
type TelemetryConfig struct {
	// Enabled controls whether the Prometheus endpoint is served
	Enabled bool `yaml:"enabled"`

	// Address is the listen address for the metrics endpoint
	// Defaults to ":9090" if not specified
	Address string `yaml:"address,omitempty"`
}

// Defaults applied by LoadConfig when fields are unset.
const (
	DefaultObjectBytes      = 64
	DefaultOutDegree        = 2
	DefaultLiveWindow       = 128
	DefaultStressDuration   = 10 * time.Second
	DefaultTelemetryAddress = ":9090"
)

// LoadConfig loads and validates a configuration
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	// Read the entire file into memory
	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML content
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()

	// Validate the config
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Stress.Mutators == 0 {
		c.Stress.Mutators = 1
	}
	if c.Stress.ObjectBytes == 0 {
		c.Stress.ObjectBytes = DefaultObjectBytes
	}
	if c.Stress.OutDegree == 0 {
		c.Stress.OutDegree = DefaultOutDegree
	}
	if c.Stress.LiveWindow == 0 {
		c.Stress.LiveWindow = DefaultLiveWindow
	}
	if c.Stress.Duration == "" {
		c.Stress.Duration = DefaultStressDuration.String()
	}
	if c.Telemetry.Address == "" {
		c.Telemetry.Address = DefaultTelemetryAddress
	}
}

// StressDuration returns the parsed workload duration.
func (c *Config) StressDuration() time.Duration {
	d, err := time.ParseDuration(c.Stress.Duration)
	if err != nil {
		return DefaultStressDuration
	}
	return d
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.ObjectQueueCapacity < 0 {
		return fmt.Errorf("objectQueueCapacity must not be negative")
	}
	if c.Heap.LimitBytes == 0 {
		return fmt.Errorf("heap.limitBytes is required")
	}
	if c.Stress.Mutators < 0 {
		return fmt.Errorf("stress.mutators must not be negative")
	}
	if c.Stress.ObjectBytes > c.Heap.LimitBytes {
		return fmt.Errorf("stress.objectBytes must not exceed heap.limitBytes")
	}
	if _, err := time.ParseDuration(c.Stress.Duration); err != nil {
		return fmt.Errorf("stress.duration is not a valid duration: %w", err)
	}
	return nil
}
