package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 键不存在或已过期
var ErrNotFound = errors.New("storage: key not found")

// Store 带过期时间的键值存储，expiresAt 为零值表示不过期
type Store interface {
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	Get(ctx context.Context, key string) ([]byte, error)
	Remove(ctx context.Context, key string) error
	Close() error
}
