package listy

import (
	"fmt"
	"time"

	"github.com/bft-labs/listycity/internal/domain"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFS       = "fs"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverWS       = "ws"
)

// DefaultCollection is the collection name used when Config.Collection is empty.
const DefaultCollection = "cities"

// Config selects and configures the remote store.
type Config struct {
	// Store is one of the Driver constants. Ignored when WithStore is used.
	Store string

	// Collection names the document collection.
	Collection string

	// Dir is the fs driver's collection directory.
	Dir string

	// DSN is the sqlite database path or the postgres connection string.
	DSN string

	// URL is the base URL of a collection server for the ws driver.
	URL string

	// PollInterval is how often the sqlite driver checks for changes.
	PollInterval time.Duration

	// Debounce delays fs reloads until file events settle.
	Debounce time.Duration

	// PersistEdits writes edited records to the store.
	PersistEdits bool
}

// SetDefaults fills zero fields with default values.
func (c *Config) SetDefaults() {
	if c.Store == "" {
		c.Store = DriverMemory
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Debounce == 0 {
		c.Debounce = 100 * time.Millisecond
	}
}

// Validate reports configuration errors wrapping domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	switch c.Store {
	case DriverMemory, DriverPostgres:
	case DriverFS:
		if c.Dir == "" {
			return fmt.Errorf("%w: dir is required for the fs store", domain.ErrInvalidConfig)
		}
	case DriverSQLite:
		if c.DSN == "" {
			return fmt.Errorf("%w: dsn is required for the sqlite store", domain.ErrInvalidConfig)
		}
	case DriverWS:
		if c.URL == "" {
			return fmt.Errorf("%w: url is required for the ws store", domain.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", domain.ErrInvalidConfig, c.Store)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection is required", domain.ErrInvalidConfig)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("%w: poll interval must not be negative", domain.ErrInvalidConfig)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("%w: debounce must not be negative", domain.ErrInvalidConfig)
	}
	return nil
}
