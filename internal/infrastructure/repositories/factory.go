package repositories

import (
	"context"

	"camlink/internal/core/ports"
	"camlink/internal/infrastructure/repositories/memory"
	redisrepo "camlink/internal/infrastructure/repositories/redis"
	"camlink/internal/infrastructure/repositories/sqlite"
	"camlink/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StoreFactory creates session stores for the configured backend, with
// fallback to memory when Redis is unreachable.
type StoreFactory struct {
	backend     string
	redisClient *redis.Client
	sqliteStore *sqlite.SQLiteSessionStore
	logger      *zap.SugaredLogger
}

// NewStoreFactory creates a new session store factory
func NewStoreFactory(cfg *config.Config, logger *zap.SugaredLogger) (*StoreFactory, error) {
	factory := &StoreFactory{
		backend: cfg.Store.Backend,
		logger:  logger,
	}

	switch cfg.Store.Backend {
	case config.StoreRedis:
		client, err := redisrepo.NewRedisClient(
			cfg.Store.Redis.Address,
			cfg.Store.Redis.Password,
			cfg.Store.Redis.DB,
			cfg.Store.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory store",
				"error", err,
			)
			factory.backend = config.StoreMemory
		} else {
			factory.redisClient = client
			logger.Info("using Redis session store")
		}
	case config.StoreSQLite:
		store, err := sqlite.NewSQLiteSessionStore(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, err
		}
		factory.sqliteStore = store
		logger.Infow("using SQLite session store", "path", cfg.Store.SQLite.Path)
	}

	if factory.backend == config.StoreMemory {
		logger.Info("using memory session store")
	}

	return factory, nil
}

// CreateSessionStore creates a session store for the selected backend
func (f *StoreFactory) CreateSessionStore() ports.SessionStore {
	switch {
	case f.backend == config.StoreRedis && f.redisClient != nil:
		return redisrepo.NewRedisSessionStore(f.redisClient)
	case f.backend == config.StoreSQLite && f.sqliteStore != nil:
		return f.sqliteStore
	default:
		return memory.NewMemorySessionStore()
	}
}

// Close closes backend connections if any
func (f *StoreFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	if f.sqliteStore != nil {
		return f.sqliteStore.Close()
	}
	return nil
}

// HealthCheck checks backend connection health
func (f *StoreFactory) HealthCheck(ctx context.Context) error {
	if f.backend == config.StoreRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
