// Package config loads hostess job settings from a YAML file.
// Command-line flags override anything the file sets.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeLocal       = "local"
	ModeCoordinator = "coordinator"
	ModeWorker      = "worker"
)

// Config is the on-disk job configuration.
type Config struct {
	Mode string `yaml:"mode"`

	// Inputs are hosts files; Output is a file path or "-" for stdout.
	Inputs []string `yaml:"inputs"`
	Output string   `yaml:"output"`

	Reduce  int `yaml:"reduce"`
	Workers int `yaml:"workers"`

	Coordinator     string `yaml:"coordinator"`
	IntermediateDir string `yaml:"intermediate_dir"`

	// PartitionDir, when set, receives one mr-out-<R> file per reduce task
	// in distributed mode.
	PartitionDir string `yaml:"partition_dir,omitempty"`

	// Timeout bounds the whole job. Format: Go duration string (e.g., "10m").
	Timeout string `yaml:"timeout,omitempty"`

	Log   LogConfig    `yaml:"log"`
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// RedisConfig enables the Redis output sink when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key,omitempty"`
}

func Default() *Config {
	return &Config{
		Mode:    ModeLocal,
		Reduce:  5,
		Workers: runtime.NumCPU(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// GetTimeout returns the job timeout, or zero for none.
func (c *Config) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeLocal:
		if len(c.Inputs) == 0 {
			errs = append(errs, errors.New("at least one input is required"))
		}
		if c.Output == "" {
			errs = append(errs, errors.New("output is required"))
		}
	case ModeCoordinator:
		if len(c.Inputs) == 0 {
			errs = append(errs, errors.New("input files required for coordinator mode"))
		}
		if c.Coordinator == "" {
			errs = append(errs, errors.New("coordinator address required"))
		}
		if c.Output == "" && c.PartitionDir == "" && (c.Redis == nil || c.Redis.URL == "") {
			errs = append(errs, errors.New("coordinator needs an output, partition dir or redis url"))
		}
	case ModeWorker:
		if c.Coordinator == "" {
			errs = append(errs, errors.New("coordinator address required"))
		}
		if c.Workers <= 0 {
			errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}

	if c.Reduce <= 0 {
		errs = append(errs, fmt.Errorf("reduce must be positive, got %d", c.Reduce))
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err))
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
