package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type entry struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func newTestMemory(t *testing.T, c *clock, opts ...MemoryOption) *MemoryCache {
	t.Helper()
	mc := NewMemoryCache(append([]MemoryOption{WithMemoryClock(c.now)}, opts...)...)
	t.Cleanup(func() { _ = mc.Close() })
	return mc
}

func TestMemoryCacheRoundTripsStructs(t *testing.T) {
	ctx := context.Background()
	mc := newTestMemory(t, &clock{t: time.Unix(1718000000, 0)})

	require.NoError(t, mc.Set(ctx, "k", entry{Symbol: "ETH/USD", Price: 3456.78}, time.Minute))

	var got entry
	require.NoError(t, mc.Get(ctx, "k", &got))
	assert.Equal(t, entry{Symbol: "ETH/USD", Price: 3456.78}, got)

	require.NoError(t, mc.Set(ctx, "s", "plain", time.Minute))
	var s string
	require.NoError(t, mc.Get(ctx, "s", &s))
	assert.Equal(t, "plain", s)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1718000000, 0)}
	mc := newTestMemory(t, c)

	require.NoError(t, mc.Set(ctx, "k", "v", 5*time.Second))
	assert.Equal(t, 5*time.Second, mc.TTL("k"))

	c.advance(4 * time.Second)
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	c.advance(2 * time.Second)
	var s string
	assert.ErrorIs(t, mc.Get(ctx, "k", &s), ErrCacheMiss)
	assert.Zero(t, mc.Len())
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1718000000, 0)}
	mc := newTestMemory(t, c, WithMemoryMaxSize(2))

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	c.advance(time.Second)
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	c.advance(time.Second)

	var s string
	require.NoError(t, mc.Get(ctx, "a", &s))
	c.advance(time.Second)
	require.NoError(t, mc.Set(ctx, "c", "3", time.Minute))

	assert.Equal(t, 2, mc.Len())
	assert.ErrorIs(t, mc.Get(ctx, "b", &s), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &s))
	assert.NoError(t, mc.Get(ctx, "c", &s))
}

func TestMemoryCacheOverwriteDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	mc := newTestMemory(t, &clock{t: time.Unix(1718000000, 0)}, WithMemoryMaxSize(2))

	require.NoError(t, mc.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, mc.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, mc.Set(ctx, "b", "3", time.Minute))
	assert.Equal(t, 2, mc.Len())
}

func TestMemoryCacheLock(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1718000000, 0)}
	mc := newTestMemory(t, c)

	ok, err := mc.TryLock(ctx, "poll", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = mc.TryLock(ctx, "poll", time.Second)
	assert.False(t, ok)

	c.advance(2 * time.Second)
	ok, _ = mc.TryLock(ctx, "poll", time.Second)
	assert.True(t, ok)

	require.NoError(t, mc.Unlock(ctx, "poll"))
	ok, _ = mc.TryLock(ctx, "poll", time.Second)
	assert.True(t, ok)
}

func TestLayeredCachePromotesFromRemote(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1718000000, 0)}
	remote := newTestMemory(t, c)
	lc := NewLayeredCache(remote, WithLayeredMemoryTTL(time.Second), WithLayeredMemoryOptions(WithMemoryClock(c.now)))
	t.Cleanup(func() { _ = lc.Close() })

	require.NoError(t, remote.Set(ctx, "k", entry{Symbol: "BTC/USD", Price: 1}, time.Minute))

	var got entry
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "BTC/USD", got.Symbol)

	// served from L1 after the remote copy is gone
	require.NoError(t, remote.Delete(ctx, "k"))
	got = entry{}
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "BTC/USD", got.Symbol)

	c.advance(2 * time.Second)
	assert.ErrorIs(t, lc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestLayeredCacheWriteThrough(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1718000000, 0)}
	remote := newTestMemory(t, c)
	lc := NewLayeredCache(remote, WithLayeredMemoryOptions(WithMemoryClock(c.now)))
	t.Cleanup(func() { _ = lc.Close() })

	require.NoError(t, lc.Set(ctx, "k", "v", 5*time.Second))

	var s string
	require.NoError(t, remote.Get(ctx, "k", &s))
	assert.Equal(t, "v", s)

	ok, err := lc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, lc.Delete(ctx, "k"))
	assert.ErrorIs(t, lc.Get(ctx, "k", &s), ErrCacheMiss)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "report:0xabc:full", Key("report", "0xabc", "full"))
	assert.Equal(t, "n:1", Key("n", 1))
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	rc := NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: addr}), "streampull-test")
	t.Cleanup(func() { _ = rc.Close() })
	require.NoError(t, rc.Ping(ctx))

	require.NoError(t, rc.Set(ctx, "k", entry{Symbol: "ETH/USD", Price: 2}, time.Minute))
	var got entry
	require.NoError(t, rc.Get(ctx, "k", &got))
	assert.Equal(t, 2.0, got.Price)

	require.NoError(t, rc.Delete(ctx, "k"))
	assert.ErrorIs(t, rc.Get(ctx, "k", &got), ErrCacheMiss)
}
