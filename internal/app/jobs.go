package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	redis "github.com/redis/go-redis/v9"

	"github.com/AbsurdMirror/PDF-Translator/internal/config"
	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
)

// openStore は STORE_DRIVER に応じたタスクストアを開きます。
func openStore(ctx context.Context, cfg *config.Config) (jobs.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreRedis:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		redisClient := redis.NewClient(opt)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return jobs.NewRedisStore(redisClient, cfg.RecordTTL()), nil
	case config.StorePostgres:
		store, err := jobs.OpenPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		if dir := filepath.Dir(cfg.DatabaseDSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		store, err := jobs.OpenSQLite(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}
