package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/photolib/internal/config"
	"github.com/dharsanguruparan/photolib/internal/database"
)

// Open builds the store selected by cfg.StoreDriver. PostgreSQL is migrated
// before the pool is returned. The close func is never nil when err is nil.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, func(), error) {
	switch strings.ToLower(cfg.StoreDriver) {
	case config.DriverPostgres:
		if err := database.Migrate(cfg.DatabaseURL, log); err != nil {
			return nil, nil, err
		}
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return NewPhotoRepository(pool), pool.Close, nil
	case config.DriverSQLite:
		s, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.DriverMemory:
		log.Warn().Msg("using in-memory store; records are lost on exit")
		return NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
