package learning

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/driftguard/config"
	"github.com/BaSui01/driftguard/internal/database"
)

// Store types
const (
	StoreTypeMemory = "memory"
	StoreTypeFile   = "file"
	StoreTypeRedis  = "redis"
	StoreTypeSQL    = "sql"
)

// NewStore creates a ledger Store based on the configuration
func NewStore(ctx context.Context, cfg config.LearningConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Store {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeFile, "":
		return NewFileStore(cfg.Path)
	case StoreTypeRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case StoreTypeSQL:
		pool, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(pool)
		if err != nil {
			_ = pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported learning store type: %s", cfg.Store)
	}
}
