package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis 基于 redis 的存储，过期交给 redis 原生 TTL
type Redis struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedis(addr, password string, db int, prefix string) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), prefix)
}

func NewRedisWithClient(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, now: time.Now}
}

// Ping 检查连接
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(r.now())
		if ttl <= 0 {
			return r.Remove(ctx, key)
		}
	}
	return r.rdb.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.prefix+key).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
