package storage

import (
	"context"
	"fmt"

	"github.com/pfrederiksen/city-events/internal/logger"
)

// Backend names
const (
	BackendCSV    = "csv"
	BackendSheets = "sheets"
	BackendMySQL  = "mysql"
)

// Config selects and configures the storage backend
type Config struct {
	Backend string
	Dir     string

	SheetsID          string
	SheetsCredentials string

	MySQLDSN string

	Archive ArchiveConfig
}

// Open builds the configured store. Remote backends are paired with the
// local CSV store as fallback; if a remote backend cannot even be set up,
// the CSV store is used on its own.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (Store, error) {
	if log == nil {
		log = logger.Default()
	}

	local, err := NewCSVStore(cfg.Dir)
	if err != nil {
		return nil, err
	}

	var store Store = local
	switch cfg.Backend {
	case BackendCSV, "":
	case BackendSheets:
		remote, err := NewSheetsStore(ctx, cfg.SheetsID, cfg.SheetsCredentials)
		if err != nil {
			log.Warn("Spreadsheet store unavailable, saving locally", logger.Fields{"dir": cfg.Dir}, err)
			break
		}
		store = NewFallbackStore(remote, local, log)
	case BackendMySQL:
		remote, err := NewMySQLStore(ctx, cfg.MySQLDSN)
		if err != nil {
			log.Warn("MySQL store unavailable, saving locally", logger.Fields{"dir": cfg.Dir}, err)
			break
		}
		store = NewFallbackStore(remote, local, log)
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}

	if cfg.Archive.Enabled() {
		archived, err := NewArchiveStore(store, cfg.Archive, log)
		if err != nil {
			return nil, fmt.Errorf("configuring archive: %w", err)
		}
		store = archived
	}

	return store, nil
}
