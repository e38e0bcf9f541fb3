package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

// New opens the store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store")

	switch cfg.Driver {
	case "sqlite", "":
		return OpenSQLite(cfg.DSN.Value(), logger)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN.Value(), logger)
	default:
		return nil, fmt.Errorf("unsupported store driver %q (supported: sqlite, postgres)", cfg.Driver)
	}
}
