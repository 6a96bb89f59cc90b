package cache

import (
	"context"
	"fmt"

	"chant/internal/config"
)

// Open builds the repository selected by cfg.Backend.
func Open(ctx context.Context, cfg config.CacheConfig) (Repository, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	case "memory":
		return NewMemoryRepository(), nil
	case "redis":
		client, err := ConnectRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedisRepository(client), nil
	case "postgres":
		return ConnectPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}
