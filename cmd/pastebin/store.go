package main

import (
	"context"
	"fmt"

	"pastebin-lite/internal/storage"
	"pastebin-lite/internal/storage/boltstore"
	"pastebin-lite/internal/storage/memstore"
	"pastebin-lite/internal/storage/redisstore"
)

func openBackend(ctx context.Context, cfg config) (storage.Backend, error) {
	switch cfg.store {
	case "redis":
		return redisstore.Open(ctx, cfg.redisURL)
	case "bolt":
		return boltstore.Open(cfg.dataPath)
	case "sqlite":
		return openSQLite(cfg.dataPath)
	case "memory":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.store)
	}
}
