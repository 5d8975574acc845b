package providers

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/samber/do/v2"

	"github.com/tallyapp/tally-server/internal/config"
	"github.com/tallyapp/tally-server/internal/logger"
	"github.com/tallyapp/tally-server/internal/store"
	"github.com/tallyapp/tally-server/internal/store/sqlite"
)

// StoreHandle wraps the record store with shutdown capability.
type StoreHandle struct {
	store.Backend
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// OpenBackend opens the record store selected by cfg.Storage.Driver.
func OpenBackend(cfg *config.Config, log *slog.Logger) (store.Backend, error) {
	path := cfg.StorePath()
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return sqlite.Open(path, log)
	case config.DriverBadger, "":
		return store.New(path, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Storage.Driver)
	}
}

// ProvideStore provides the record store.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	backend, err := OpenBackend(cfg, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	log.Info("Record store initialized",
		"driver", cfg.Storage.Driver,
		"path", cfg.StorePath(),
		"concurrent_writes", store.AllowsConcurrentWrites(backend))

	return &StoreHandle{Backend: backend}, nil
}
