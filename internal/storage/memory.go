package storage

import (
	"bytes"
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory 进程内存储，进程退出即丢失
type Memory struct {
	c   *cache.Cache
	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		c:   cache.New(cache.NoExpiration, 10*time.Minute),
		now: time.Now,
	}
}

func (m *Memory) Set(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	ttl := cache.NoExpiration
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(m.now())
		if ttl <= 0 {
			m.c.Delete(key)
			return nil
		}
	}

	m.c.Set(key, bytes.Clone(value), ttl)
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, found := m.c.Get(key)
	if !found {
		return nil, ErrNotFound
	}
	return bytes.Clone(v.([]byte)), nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
