// Package config loads the serving configuration file and resolves
// per-request sampling parameters.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the configuration file (~/.config/mlcserve/config.yaml).
// Sampling fields are pointers so we can distinguish "not set" from zero
// values.
type Config struct {
	// Sampling defaults
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	Seed        *int64   `yaml:"seed"`

	// Backend
	Backend string `yaml:"backend"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func Path() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "mlcserve", "config.yaml")
}

// Load reads the config file at path. A missing file is not an error; it
// yields the zero Config.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SamplingDefaults are the resolved fallback sampling parameters applied to
// requests that do not specify their own.
type SamplingDefaults struct {
	Temperature float64
	TopP        float64
	Seed        int64
}

// Resolve merges the config file values over the built-in defaults and
// validates the result.
func (c Config) Resolve() (SamplingDefaults, error) {
	d := SamplingDefaults{
		Temperature: 0.7,
		TopP:        0.95,
		Seed:        0,
	}
	if c.Temperature != nil {
		d.Temperature = *c.Temperature
	}
	if c.TopP != nil {
		d.TopP = *c.TopP
	}
	if c.Seed != nil {
		d.Seed = *c.Seed
	}
	if d.Temperature < 0 {
		return d, fmt.Errorf("temperature %v out of range [0, inf)", d.Temperature)
	}
	if d.TopP < 0 || d.TopP > 1 {
		return d, fmt.Errorf("top_p %v out of range [0, 1]", d.TopP)
	}
	return d, nil
}
