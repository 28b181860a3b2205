package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/internal/storage/memory"
	"github.com/chatsync/internal/storage/postgres"
)

// OpenHistoryStore открывает хранилище истории по cfg.Storage.Driver.
// Для postgres применяются встроенные миграции.
func OpenHistoryStore(ctx context.Context, cfg *config.Config, maxWait time.Duration) (storage.HistoryStore, error) {
	switch cfg.Storage.Driver {
	case config.StorageRedis:
		client, err := ConnectRedisWithRetry(ctx, cfg.Storage.RedisURL, maxWait, "history: ")
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.StoragePostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Storage.MaxConnections)
		pool, err := ConnectDBWithRetry(ctx, poolCfg, maxWait, "history: ")
		if err != nil {
			return nil, err
		}
		store := postgres.New(pool)
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := store.Migrate(migrateCtx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		logger.Debugf("history: in-memory store")
		return memory.New(), nil
	}
}
