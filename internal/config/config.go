// Package config loads the runtime configuration from weft.toml.
// The scheduler core itself takes explicit options; TOML configuration
// is a concern of the CLI driver.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level weft.toml schema.
type Config struct {
	Runtime RuntimeConfig `toml:"runtime"`
	Log     LogConfig     `toml:"log"`
	Trace   TraceConfig   `toml:"trace"`
}

// RuntimeConfig shapes the scheduler instance.
type RuntimeConfig struct {
	// Threads overrides the worker count; 0 means probe the hardware.
	Threads int `toml:"threads"`
	// Units is the number of in-process participants the CLI driver
	// spins up on the loopback transport.
	Units int `toml:"units"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// TraceConfig controls stage timing output.
type TraceConfig struct {
	Timings bool `toml:"timings"`
}

// Default returns the configuration used when no weft.toml exists.
func Default() Config {
	return Config{
		Runtime: RuntimeConfig{Units: 1},
		Log:     LogConfig{Level: "info"},
	}
}

// Find walks upward from startDir looking for a weft.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, "weft.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load reads and validates the configuration at path.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration in %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault finds and loads a weft.toml near startDir, falling back
// to defaults when none exists.
func LoadOrDefault(startDir string) (Config, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, err
	}
	if !ok {
		return Default(), nil
	}
	return Load(path)
}

func (c Config) validate() error {
	if c.Runtime.Threads < 0 {
		return fmt.Errorf("runtime.threads must be non-negative, got %d", c.Runtime.Threads)
	}
	if c.Runtime.Units < 0 {
		return fmt.Errorf("runtime.units must be non-negative, got %d", c.Runtime.Units)
	}
	return nil
}
