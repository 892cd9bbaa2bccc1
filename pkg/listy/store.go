package listy

import (
	"context"
	"fmt"

	"github.com/bft-labs/listycity/internal/adapters/fs"
	"github.com/bft-labs/listycity/internal/adapters/memory"
	"github.com/bft-labs/listycity/internal/adapters/postgres"
	"github.com/bft-labs/listycity/internal/adapters/sqlite"
	"github.com/bft-labs/listycity/internal/adapters/websocket"
	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/pkg/log"
)

// OpenStore opens the store cfg.Store names. cfg must be valid.
// ctx bounds connection setup only.
func OpenStore(ctx context.Context, cfg Config, logger log.Logger) (RemoteStore, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	logger = log.With(logger, log.String("store", cfg.Store), log.String("collection", cfg.Collection))

	switch cfg.Store {
	case DriverMemory:
		return memory.New(), nil
	case DriverFS:
		return fs.New(cfg.Dir,
			fs.WithDebounce(cfg.Debounce),
			fs.WithLogger(logger),
		), nil
	case DriverSQLite:
		s, err := sqlite.Open(cfg.DSN, cfg.Collection,
			sqlite.WithPollInterval(cfg.PollInterval),
			sqlite.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN, cfg.Collection, postgres.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case DriverWS:
		c, err := websocket.NewClient(cfg.URL, cfg.Collection, websocket.WithClientLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open ws store: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown store %q", domain.ErrInvalidConfig, cfg.Store)
	}
}
