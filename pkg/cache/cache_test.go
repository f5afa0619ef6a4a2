package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "study:latest", payload{ID: "a", Score: -0.1}, time.Minute))

	var got payload
	require.NoError(t, mc.Get(ctx, "study:latest", &got))
	assert.Equal(t, payload{ID: "a", Score: -0.1}, got)

	var s string
	require.NoError(t, mc.Set(ctx, "plain", "text", 0))
	require.NoError(t, mc.Get(ctx, "plain", &s))
	assert.Equal(t, "text", s)

	assert.ErrorIs(t, mc.Get(ctx, "absent", &got), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "k", "v", 10*time.Millisecond))
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "a", "1", 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", "2", 0))
	time.Sleep(time.Millisecond)

	var s string
	require.NoError(t, mc.Get(ctx, "a", &s)) // a is now fresher than b
	require.NoError(t, mc.Set(ctx, "c", "3", 0))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &s))
}

func TestMemoryCacheLock(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	ok, err := mc.TryLock(ctx, "req:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.TryLock(ctx, "req:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mc.Unlock(ctx, "req:1"))
	ok, _ = mc.TryLock(ctx, "req:1", time.Minute)
	assert.True(t, ok)
}

func TestRedisCacheGetSet(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	rc := NewRedisCacheWithClient(db, "fm")

	mock.ExpectSet("fm:study:latest", []byte(`{"id":"a","score":-0.1}`), time.Hour).SetVal("OK")
	require.NoError(t, rc.Set(ctx, "study:latest", payload{ID: "a", Score: -0.1}, time.Hour))

	mock.ExpectGet("fm:study:latest").SetVal(`{"id":"a","score":-0.1}`)
	var got payload
	require.NoError(t, rc.Get(ctx, "study:latest", &got))
	assert.Equal(t, "a", got.ID)

	mock.ExpectGet("fm:missing").RedisNil()
	assert.ErrorIs(t, rc.Get(ctx, "missing", &got), ErrCacheMiss)

	mock.ExpectSetNX("fm:lock", "locked", time.Minute).SetVal(true)
	ok, err := rc.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLayeredCacheFillsL1FromRedis(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	lc := NewLayeredCache(NewRedisCacheWithClient(db, "fm"))
	defer lc.memCache.Close()

	// a single Redis read; the second Get is served from memory
	mock.ExpectGet("fm:k").SetVal(`{"id":"b","score":1}`)

	var got payload
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "b", got.ID)

	got = payload{}
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "b", got.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}
