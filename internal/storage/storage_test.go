package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/qd-client/config"
	"github.com/utrading/qd-client/internal/dal"
)

// runStoreContract 各实现共享的行为约束
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "Access-Token", []byte(`"t1"`), time.Now().Add(time.Hour)))
	v, err := s.Get(ctx, "Access-Token")
	require.NoError(t, err)
	assert.Equal(t, `"t1"`, string(v))

	// 覆盖写
	require.NoError(t, s.Set(ctx, "Access-Token", []byte(`"t2"`), time.Now().Add(time.Hour)))
	v, err = s.Get(ctx, "Access-Token")
	require.NoError(t, err)
	assert.Equal(t, `"t2"`, string(v))

	// 不过期
	require.NoError(t, s.Set(ctx, "forever", []byte(`1`), time.Time{}))
	v, err = s.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, `1`, string(v))

	// 已过期的写入等同删除
	require.NoError(t, s.Set(ctx, "forever", []byte(`2`), time.Now().Add(-time.Second)))
	_, err = s.Get(ctx, "forever")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Remove(ctx, "Access-Token"))
	_, err = s.Get(ctx, "Access-Token")
	assert.ErrorIs(t, err, ErrNotFound)

	// 删除不存在的键不报错
	assert.NoError(t, s.Remove(ctx, "missing"))
}

func TestMemory(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	runStoreContract(t, s)
}

func TestMemory_Expiry(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Now().Add(50*time.Millisecond)))
	_, err := s.Get(ctx, "k")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ValueCopied(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", buf, time.Time{}))
	buf[0] = 'x'

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))

	// 修改读出的值不影响存储
	v[0] = 'y'
	v, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))
}

func newTestDatabase(t *testing.T) *Database {
	db, err := dal.Open(config.Storage{Driver: dal.DriverSQLite, DSN: filepath.Join(t.TempDir(), "s.db")})
	require.NoError(t, err)
	require.NoError(t, dal.AutoMigrate(db))
	s := NewDatabase(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDatabase(t *testing.T) {
	runStoreContract(t, newTestDatabase(t))
}

func TestDatabase_ExpiredOnRead(t *testing.T) {
	s := newTestDatabase(t)
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, s.Set(ctx, "User-Info", []byte(`{}`), base.Add(time.Hour)))

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err := s.Get(ctx, "User-Info")
	assert.ErrorIs(t, err, ErrNotFound)

	// 读取时已清理
	s.now = time.Now
	_, err = s.Get(ctx, "User-Info")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDatabase_PurgeExpired(t *testing.T) {
	s := newTestDatabase(t)
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, s.Set(ctx, "a", []byte(`1`), base.Add(time.Minute)))
	require.NoError(t, s.Set(ctx, "b", []byte(`2`), base.Add(time.Hour)))
	require.NoError(t, s.Set(ctx, "c", []byte(`3`), time.Time{}))

	s.now = func() time.Time { return base.Add(10 * time.Minute) }
	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, "b")
	assert.NoError(t, err)
	_, err = s.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("QD_TEST_REDIS_ADDR")
	if testing.Short() || addr == "" {
		t.Skip("QD_TEST_REDIS_ADDR not set")
	}

	s := NewRedis(addr, "", 0, "qd-test:")
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))
	runStoreContract(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.Storage{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, config.Storage{Driver: dal.DriverSQLite, DSN: filepath.Join(t.TempDir(), "o.db")})
	require.NoError(t, err)
	assert.IsType(t, &Database{}, s)
	s.Close()

	_, err = Open(ctx, config.Storage{Driver: "etcd"})
	assert.Error(t, err)
}
