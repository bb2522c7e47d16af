// Package config handles lantern.toml project configuration.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/lanternlang/lantern/errors"
)

// FileName is the project configuration file searched for by FindAndLoad.
const FileName = "lantern.toml"

// Config represents a lantern.toml project configuration. Every section
// is optional; zero values defer to built-in defaults.
type Config struct {
	Build   BuildConfig   `toml:"build"`
	Runtime RuntimeConfig `toml:"runtime"`
	Log     LogConfig     `toml:"log"`

	// Dir is the directory containing the lantern.toml file (set at load time).
	Dir string `toml:"-"`
}

// BuildConfig configures standalone binary construction.
type BuildConfig struct {
	// Output is the default output path for built binaries.
	Output string `toml:"output"`

	// Embed lists files bundled into the payload alongside the program.
	Embed []string `toml:"embed"`

	// Base overrides the reference executable the payload is appended to.
	Base string `toml:"base"`
}

// RuntimeConfig configures program execution.
type RuntimeConfig struct {
	// GranularityMS is the reactor polling granularity floor in
	// milliseconds. 0 keeps the reactor default.
	GranularityMS int `toml:"granularity-ms"`

	// MaxTasks caps simultaneously live tasks. 0 means unlimited.
	MaxTasks int `toml:"max-tasks"`

	// MemoryLimitPages caps guest memory in 64KB pages. 0 keeps the
	// engine default.
	MemoryLimitPages uint32 `toml:"memory-limit-pages"`
}

// LogConfig configures diagnostic output.
type LogConfig struct {
	Level string `toml:"level"`
}

// Granularity returns the configured polling granularity as a duration.
func (c *Config) Granularity() time.Duration {
	return time.Duration(c.Runtime.GranularityMS) * time.Millisecond
}

// Default returns the configuration used when no lantern.toml exists.
func Default() *Config {
	return &Config{Log: LogConfig{Level: "info"}}
}

// Load parses a lantern.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IOFailure(errors.PhaseConfig, "read "+path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, errors.InvalidData(errors.PhaseConfig, "parse "+path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, errors.IOFailure(errors.PhaseConfig, "resolve "+dir, err)
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return &c, nil
}

// FindAndLoad walks up from startDir to find a lantern.toml file, then
// loads and returns the configuration. An absent file is not an error:
// the defaults are returned with an empty Dir.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, errors.IOFailure(errors.PhaseConfig, "resolve "+startDir, err)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root without finding one.
			return Default(), nil
		}
		dir = parent
	}
}

// EmbedPaths returns the configured embed entries resolved against the
// configuration's directory. Entries that are already absolute pass
// through unchanged, as do all entries of a default configuration.
func (c *Config) EmbedPaths() []string {
	var paths []string
	for _, e := range c.Build.Embed {
		if c.Dir != "" && !filepath.IsAbs(e) {
			e = filepath.Join(c.Dir, e)
		}
		paths = append(paths, e)
	}
	return paths
}
