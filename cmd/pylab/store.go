package main

import (
	"context"
	"fmt"

	"github.com/michaelbrown/pylab/internal/config"
	"github.com/michaelbrown/pylab/internal/storage"
	"github.com/michaelbrown/pylab/internal/storage/postgres"
	"github.com/michaelbrown/pylab/internal/storage/sqlite"
)

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	case "sqlite", "":
		return sqlite.Open(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
