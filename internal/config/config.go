// Package config loads the storage configuration: which backend to use,
// where it lives, and SQLite tuning. It is read once at process start;
// there is no hot reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend kinds accepted in configuration.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// SQLiteConfig tunes the SQL backend. WAL and foreign-key enforcement are on
// unless explicitly disabled, so the zero value is a sensible default.
type SQLiteConfig struct {
	// Path of the database file. Empty derives <root_path>/agentworld.db.
	Path string `yaml:"path"`

	DisableWAL         bool `yaml:"disable_wal"`
	BusyTimeoutMS      int  `yaml:"busy_timeout_ms"`
	CacheKB            int  `yaml:"cache_kb"`
	DisableForeignKeys bool `yaml:"disable_foreign_keys"`
}

// SweepConfig controls the queue maintenance sweeper.
type SweepConfig struct {
	// Schedule is an optional 5-field cron expression. Empty uses
	// IntervalSeconds as a fixed tick.
	Schedule        string `yaml:"schedule"`
	IntervalSeconds int    `yaml:"interval_seconds"`

	// CleanupAfterHours prunes terminal queue messages older than this.
	// 0 disables cleanup during sweeps.
	CleanupAfterHours int `yaml:"cleanup_after_hours"`
}

// Config selects and tunes a storage backend.
type Config struct {
	// Backend is one of "sqlite", "file", "memory". Empty means
	// unconfigured: the facade degrades every call to a safe no-op.
	Backend  string `yaml:"backend"`
	RootPath string `yaml:"root_path"`

	SQLite SQLiteConfig `yaml:"sqlite"`
	Sweep  SweepConfig  `yaml:"sweep"`

	LogLevel string `yaml:"log_level"`
}

// DefaultRootPath returns ~/.agentworld, falling back to the working
// directory when the home dir cannot be resolved.
func DefaultRootPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".agentworld")
}

// Load reads the config file at path (missing file is not an error), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AGENTWORLD_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("AGENTWORLD_ROOT"); v != "" {
		c.RootPath = v
	}
	if v := os.Getenv("AGENTWORLD_SQLITE_PATH"); v != "" {
		c.SQLite.Path = v
	}
	if v := os.Getenv("AGENTWORLD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("AGENTWORLD_SQLITE_BUSY_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SQLite.BusyTimeoutMS = n
		}
	}
}

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.RootPath == "" {
		c.RootPath = DefaultRootPath()
	}
	if c.Backend != "" {
		c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = filepath.Join(c.RootPath, "agentworld.db")
	}
	if c.SQLite.BusyTimeoutMS == 0 {
		c.SQLite.BusyTimeoutMS = 5000
	}
	if c.SQLite.CacheKB == 0 {
		c.SQLite.CacheKB = 2000
	}
	if c.Sweep.IntervalSeconds == 0 {
		c.Sweep.IntervalSeconds = 30
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects unknown backend kinds. An empty backend is valid and
// means "unconfigured".
func (c *Config) Validate() error {
	switch c.Backend {
	case "", BackendSQLite, BackendFile, BackendMemory:
		return nil
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
}

// Key identifies a backend instance for memoization: two configs with the
// same key share one backend.
func (c *Config) Key() string {
	switch c.Backend {
	case BackendSQLite:
		return c.Backend + "|" + c.SQLite.Path
	case BackendFile:
		return c.Backend + "|" + c.RootPath
	default:
		return c.Backend
	}
}
