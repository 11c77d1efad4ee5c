// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the configuration file for Load.
const EnvironmentVariable = "LOCALSERVER_CONFIG"

// Config is the complete localserver configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Database DatabaseConfig `yaml:"database"`
	Capture  CaptureConfig  `yaml:"capture"`
	Update   UpdateConfig   `yaml:"update"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

// PathsConfig locates the daemon's files.
type PathsConfig struct {
	// Root is the base directory. Other paths default to entries
	// under it.
	Root string `yaml:"root"`

	// Database is the web cache SQLite file.
	Database string `yaml:"database"`

	// Locks holds the per-store update lock files. Every process
	// sharing a database must use the same directory.
	Locks string `yaml:"locks"`

	// Socket is the daemon's Unix socket.
	Socket string `yaml:"socket"`
}

// DatabaseConfig tunes the web cache database.
type DatabaseConfig struct {
	// PoolSize is the number of SQLite connections. Zero picks a
	// default from the CPU count.
	PoolSize int `yaml:"pool_size"`

	// BusyTimeout is how long a writer waits for the lock.
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// ExpectedVersion, when set, must match the schema version
	// stored in the database or every operation fails.
	ExpectedVersion string `yaml:"expected_version"`
}

// CaptureConfig controls fetching.
type CaptureConfig struct {
	UserAgent string `yaml:"user_agent"`

	// MaxBodySize bounds one captured body in bytes.
	MaxBodySize int64 `yaml:"max_body_size"`

	// FetchTimeout bounds one request, including reading the body.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// MaxRedirects bounds the redirect chain of one fetch.
	MaxRedirects int `yaml:"max_redirects"`
}

// UpdateConfig controls automatic managed store updates.
type UpdateConfig struct {
	Enabled bool `yaml:"enabled"`

	// PollInterval is how often the scheduler looks for stores due
	// for a check.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MinCheckInterval is the minimum time between two automatic
	// checks of the same store.
	MinCheckInterval time.Duration `yaml:"min_check_interval"`
}

// HTTPConfig controls the listener that serves captured content.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LogConfig controls the daemon's structured log.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// SlogLevel converts Level. Unknown values map to info; Validate
// rejects them.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Default returns the configuration used for fields the file leaves
// unset. Paths are unexpanded until LoadFile runs.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Root:     "${HOME}/.cache/localserver",
			Database: "${LOCALSERVER_ROOT}/webcache.db",
			Locks:    "${LOCALSERVER_ROOT}/locks",
			Socket:   "${LOCALSERVER_ROOT}/localserver.sock",
		},
		Database: DatabaseConfig{
			BusyTimeout: 5 * time.Second,
		},
		Capture: CaptureConfig{
			MaxBodySize:  64 << 20,
			FetchTimeout: 60 * time.Second,
			MaxRedirects: 10,
		},
		Update: UpdateConfig{
			Enabled:          true,
			PollInterval:     time.Minute,
			MinCheckInterval: 24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Address: "127.0.0.1:8765",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the file named by LOCALSERVER_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your localserver.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads the configuration at path over the defaults and
// expands variables in the path fields.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and expands variables.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["LOCALSERVER_ROOT"] = c.Paths.Root

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.Locks = expandVars(c.Paths.Locks, vars)
	c.Paths.Socket = expandVars(c.Paths.Socket, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${NAME} and ${NAME:-default}. Names in vars take
// precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	for name, value := range map[string]string{
		"paths.root":     c.Paths.Root,
		"paths.database": c.Paths.Database,
		"paths.locks":    c.Paths.Locks,
		"paths.socket":   c.Paths.Socket,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		} else if strings.Contains(value, "${") {
			errs = append(errs, fmt.Errorf("%s has an unexpanded variable: %s", name, value))
		}
	}

	if c.Database.PoolSize < 0 {
		errs = append(errs, errors.New("database.pool_size must not be negative"))
	}
	if c.Capture.MaxBodySize <= 0 {
		errs = append(errs, errors.New("capture.max_body_size must be positive"))
	}
	if c.Capture.FetchTimeout <= 0 {
		errs = append(errs, errors.New("capture.fetch_timeout must be positive"))
	}
	if c.Capture.MaxRedirects < 0 {
		errs = append(errs, errors.New("capture.max_redirects must not be negative"))
	}
	if c.Update.Enabled {
		if c.Update.PollInterval <= 0 {
			errs = append(errs, errors.New("update.poll_interval must be positive"))
		}
		if c.Update.MinCheckInterval < 0 {
			errs = append(errs, errors.New("update.min_check_interval must not be negative"))
		}
	}
	if c.HTTP.Enabled && c.HTTP.Address == "" {
		errs = append(errs, errors.New("http.address is required when http is enabled"))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the root, lock, database, and socket
// directories.
func (c *Config) EnsurePaths() error {
	for _, directory := range []string{
		c.Paths.Root,
		c.Paths.Locks,
		filepath.Dir(c.Paths.Database),
		filepath.Dir(c.Paths.Socket),
	} {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}
