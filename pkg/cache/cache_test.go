package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tesserahq/tessera/pkg/cache"
)

type payload struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

func newTestCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.New(client, "test", nil), mr
}

func TestGetSetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := cache.ContractKey("asset-1")

	var miss payload
	assert.False(t, c.Get(ctx, key, &miss))

	c.Set(ctx, key, payload{ID: "c1", Version: "1.2.0"}, cache.ContractTTL)

	var hit payload
	require.True(t, c.Get(ctx, key, &hit))
	assert.Equal(t, "1.2.0", hit.Version)
}

func TestTTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key := cache.SearchKey("orders breaking")

	c.Set(ctx, key, payload{ID: "s1"}, cache.SearchTTL)
	mr.FastForward(cache.SearchTTL + time.Second)

	var out payload
	assert.False(t, c.Get(ctx, key, &out))
}

func TestDeleteInvalidates(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, cache.ContractKey("a1"), payload{ID: "c1"}, cache.ContractTTL)
	c.Set(ctx, cache.AssetKey("a1"), payload{ID: "a1"}, cache.AssetTTL)
	c.Delete(ctx, cache.ContractKey("a1"), cache.AssetKey("a1"))

	var out payload
	assert.False(t, c.Get(ctx, cache.ContractKey("a1"), &out))
	assert.False(t, c.Get(ctx, cache.AssetKey("a1"), &out))
}

func TestCorruptEntryDropped(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	key := cache.AssetKey("a1")

	require.NoError(t, mr.Set("test:"+key, "{not json"))

	var out payload
	assert.False(t, c.Get(ctx, key, &out))
	// The corrupt entry is evicted, not left to fail every read.
	assert.False(t, mr.Exists("test:"+key))
}

func TestDisabledCacheIsNoOp(t *testing.T) {
	c := cache.New(nil, "test", nil)
	ctx := context.Background()

	assert.False(t, c.Enabled())
	c.Set(ctx, "k", payload{}, time.Minute)
	c.Delete(ctx, "k")

	var out payload
	assert.False(t, c.Get(ctx, "k", &out))
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "contract:active:a1", cache.ContractKey("a1"))
	assert.Equal(t, "lineage:a1:5", cache.LineageKey("a1", 5))
	assert.NotEqual(t, cache.SearchKey("orders"), cache.SearchKey("orders "))
	assert.Equal(t, cache.SearchKey("orders"), cache.SearchKey("orders"))
}
