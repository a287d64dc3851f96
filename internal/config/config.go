// Package config loads the YAML configuration of the carve command.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/tetsuo/carve/formats"
	"gopkg.in/yaml.v3"
)

type OutputFormat string

const (
	OutputTable OutputFormat = "table"
	OutputYAML  OutputFormat = "yaml"
)

type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

type Config struct {
	Log      Log      `yaml:"log"`
	Decoders []string `yaml:"decoders"`
	Jobs     int      `yaml:"jobs"`
	Metrics  Metrics  `yaml:"metrics"`
	Output   Output   `yaml:"output"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Metrics struct {
	// Listen is the address serving /metrics during a scan. Empty
	// disables the endpoint.
	Listen string `yaml:"listen"`
}

type Output struct {
	Format OutputFormat `yaml:"format"`
	Color  ColorMode    `yaml:"color"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Load reads the file at path. Missing fields get their default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Jobs <= 0 {
		c.Jobs = 4
	}
	if c.Output.Format == "" {
		c.Output.Format = OutputTable
	}
	if c.Output.Color == "" {
		c.Output.Color = ColorAuto
	}
}

// Validate checks enumerations and decoder names.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	switch c.Output.Format {
	case OutputTable, OutputYAML:
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}
	switch c.Output.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("unknown color mode %q", c.Output.Color)
	}
	seen := map[string]bool{}
	for _, name := range c.Decoders {
		if !formats.Known(name) {
			return fmt.Errorf("unknown decoder %q", name)
		}
		if seen[name] {
			return fmt.Errorf("decoder %q listed twice", name)
		}
		seen[name] = true
	}
	return nil
}
