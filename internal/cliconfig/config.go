package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bft-labs/listycity/internal/domain"
)

// Store drivers accepted by Config.Store.
const (
	DriverMemory   = "memory"
	DriverFS       = "fs"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverWS       = "ws"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "cities"

// DefaultListen is the serve command's default listen address.
const DefaultListen = ":8080"

// Config holds CLI configuration for listycity.
type Config struct {
	Store      string
	Collection string

	// Dir is the fs driver's collection directory.
	Dir string
	// DSN is the sqlite database path or the postgres connection string.
	DSN string
	// URL is the ws driver's server base URL.
	URL string

	PollInterval time.Duration
	Debounce     time.Duration
	PersistEdits bool

	LogLevel    string
	MetricsAddr string
	Listen      string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Store:        DriverFS,
		Collection:   DefaultCollection,
		PollInterval: 500 * time.Millisecond,
		Debounce:     100 * time.Millisecond,
		LogLevel:     "info",
		Listen:       DefaultListen,
	}
}

// DefaultHome returns ~/.listycity, or .listycity when the home directory
// is unknown.
func DefaultHome() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".listycity")
	}
	return ".listycity"
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Collection == "" {
		return fmt.Errorf("%w: collection is required", domain.ErrInvalidConfig)
	}

	switch c.Store {
	case DriverMemory:
	case DriverFS:
		if c.Dir == "" {
			c.Dir = filepath.Join(DefaultHome(), "collections", c.Collection)
		}
	case DriverSQLite:
		if c.DSN == "" {
			c.DSN = filepath.Join(DefaultHome(), "listycity.db")
		}
	case DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("%w: dsn is required for the postgres store", domain.ErrInvalidConfig)
		}
	case DriverWS:
		if c.URL == "" {
			return fmt.Errorf("%w: url is required for the ws store", domain.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", domain.ErrInvalidConfig, c.Store)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", domain.ErrInvalidConfig)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("%w: debounce must not be negative", domain.ErrInvalidConfig)
	}

	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
