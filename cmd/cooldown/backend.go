package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"

	"mercator-hq/cooldown/pkg/config"
	"mercator-hq/cooldown/pkg/limits/storage"
)

// openBackend creates the configured usage storage backend.
func openBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryBackend(), nil

	case "sqlite", "":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return storage.NewSQLiteBackendWithConfig(storage.SQLiteBackendConfig{
			DBPath:           cfg.SQLite.Path,
			Driver:           cfg.SQLite.Driver,
			BusyTimeout:      cfg.SQLite.BusyTimeout,
			SnapshotInterval: cfg.SQLite.SnapshotInterval,
		})

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.Timeout,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
		})
		backend := storage.NewRedisBackend(client,
			storage.WithKeyPrefix(cfg.Redis.KeyPrefix),
			storage.WithTimeout(cfg.Redis.Timeout),
		)
		if err := backend.Ping(ctx); err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		return backend, nil

	case "postgres":
		return storage.OpenPostgres(ctx, cfg.Postgres.DSN, storage.WithTable(cfg.Postgres.Table))

	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
