// Package config loads the controller configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "SDN_CONFIG"

// Config is the controller configuration.
type Config struct {
	// StatePath is the YAML file holding the last applied record.
	StatePath string `yaml:"statePath"`
	// ArchiveDir stores compiled topologies by digest. Empty disables it.
	ArchiveDir string          `yaml:"archiveDir"`
	ArchiveGC  ArchiveGCConfig `yaml:"archiveGC"`
	ListenAddr string          `yaml:"listenAddr"`
	LogLevel   string          `yaml:"logLevel"` // debug, info, warn, error

	// Execute runs commands on the host. When false, commands are only
	// recorded and logged.
	Execute bool `yaml:"execute"`

	IntrospectionTimeout time.Duration `yaml:"introspectionTimeout"`
	CommandTimeout       time.Duration `yaml:"commandTimeout"`
	WatchInterval        time.Duration `yaml:"watchInterval"`
}

// ArchiveGCConfig controls pruning of the compiled topology archive.
type ArchiveGCConfig struct {
	Interval  time.Duration `yaml:"interval"`
	KeepLastN int           `yaml:"keepLastN"`
	DryRun    bool          `yaml:"dryRun"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.StatePath == "" {
		c.StatePath = "/var/lib/sdn/state.yaml"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.IntrospectionTimeout == 0 {
		c.IntrospectionTimeout = 5 * time.Second
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.WatchInterval == 0 {
		c.WatchInterval = 30 * time.Second
	}
	if c.ArchiveGC.Interval == 0 {
		c.ArchiveGC.Interval = 30 * time.Minute
	}
	if c.ArchiveGC.KeepLastN == 0 {
		c.ArchiveGC.KeepLastN = 10
	}
}

// Path resolves the config path: flag value first, then $SDN_CONFIG.
// An empty result means run with defaults.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvPath)
}

// Load reads path and applies defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges. All problems are reported together.
func (c Config) Validate() error {
	var errs error
	if _, err := c.Level(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.IntrospectionTimeout < 0 {
		errs = multierr.Append(errs, errors.New("introspectionTimeout must not be negative"))
	}
	if c.CommandTimeout < 0 {
		errs = multierr.Append(errs, errors.New("commandTimeout must not be negative"))
	}
	if c.WatchInterval < 0 {
		errs = multierr.Append(errs, errors.New("watchInterval must not be negative"))
	}
	if c.ArchiveGC.Interval < 0 {
		errs = multierr.Append(errs, errors.New("archiveGC.interval must not be negative"))
	}
	if c.ArchiveGC.KeepLastN < 0 {
		errs = multierr.Append(errs, errors.New("archiveGC.keepLastN must not be negative"))
	}
	return errs
}

// Level parses LogLevel.
func (c Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("logLevel: %w", err)
	}
	return lvl, nil
}
