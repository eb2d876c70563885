package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/utrading/qd-client/config"
	"github.com/utrading/qd-client/internal/dal"
	"github.com/utrading/qd-client/pkg/logger"
)

const DriverMemory = "memory"
const DriverRedis = "redis"

// Open 按配置创建存储
func Open(ctx context.Context, cfg config.Storage) (Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemory(), nil

	case dal.DriverSQLite, dal.DriverMySQL:
		db, err := dal.Open(cfg)
		if err != nil {
			return nil, err
		}
		if err = dal.AutoMigrate(db); err != nil {
			dal.Close(db)
			return nil, err
		}
		store := NewDatabase(db)
		if n, err := store.PurgeExpired(ctx); err != nil {
			logger.Warn().Err(err).Msg("purge expired storage entries failed")
		} else if n > 0 {
			logger.Info().Int64("count", n).Msg("purged expired storage entries")
		}
		return store, nil

	case DriverRedis:
		store := NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			store.Close()
			return nil, fmt.Errorf("connect redis %s failed: %w", cfg.RedisAddr, err)
		}
		return store, nil
	}

	return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
}
