package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credengine/internal/config"
	"github.com/sells-group/credengine/internal/store"
)

// openStore builds the configured store backend.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		st, err := store.NewSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		var poolCfg *store.PoolConfig
		if cfg.Pool != nil {
			poolCfg = &store.PoolConfig{MaxConns: cfg.Pool.MaxConns, MinConns: cfg.Pool.MinConns}
		}
		st, err := store.NewPostgres(ctx, cfg.DatabaseURL, poolCfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unknown store driver: %s", cfg.Driver)
	}
}
