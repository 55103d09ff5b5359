package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreBasics(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	_, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok, "entry should expire after TTL")
}

func TestMemoryStoreSetNX(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.SetClock(func() time.Time { return now })

	set, err := s.SetNX(ctx, "lock", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, set)

	set, err = s.SetNX(ctx, "lock", "1", time.Minute)
	require.NoError(t, err)
	assert.False(t, set, "second SetNX must not overwrite")

	now = now.Add(2 * time.Minute)
	set, err = s.SetNX(ctx, "lock", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, set, "SetNX succeeds once the old lock expired")
}

func TestMemoryStoreIncrBy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	n, err := s.IncrBy(ctx, "counter", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.IncrBy(ctx, "counter", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	assert.Equal(t, int64(5), GetInt64(ctx, s, "counter"))
	assert.Equal(t, int64(0), GetInt64(ctx, s, "missing"))
}

func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisStore(mr.Addr())
}

func TestRedisStoreBasics(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)
	t.Cleanup(func() { s.Close() })

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	set, err := s.SetNX(ctx, "k", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, set)

	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisStoreIncrBy(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)
	t.Cleanup(func() { s.Close() })

	n, err := s.IncrBy(ctx, "c", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.IncrBy(ctx, "c", 4, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
