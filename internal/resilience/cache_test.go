package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeHours struct {
	StoreID string `json:"storeId"`
	Opens   string `json:"opens"`
}

func TestCacheRoundTrip(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	require.True(t, h.queue.CacheData(ctx, "hours_s1", storeHours{StoreID: "s1", Opens: "08:00"}, time.Minute))

	var got storeHours
	require.True(t, h.queue.GetCachedData(ctx, "hours_s1", &got))
	assert.Equal(t, storeHours{StoreID: "s1", Opens: "08:00"}, got)

	_, ok, err := h.store.Get(ctx, "cache_hours_s1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCacheExpiresLazily(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	h.queue.CacheData(ctx, "flyers", []string{"checkers", "spar"}, time.Minute)
	h.clock.Advance(61 * time.Second)

	var got []string
	assert.False(t, h.queue.GetCachedData(ctx, "flyers", &got))

	_, ok, err := h.store.Get(ctx, "cache_flyers")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheMissAndCorruptEntry(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	var got storeHours
	assert.False(t, h.queue.GetCachedData(ctx, "missing", &got))

	require.NoError(t, h.store.Set(ctx, "cache_broken", []byte("{not json")))
	assert.False(t, h.queue.GetCachedData(ctx, "broken", &got))
	_, ok, _ := h.store.Get(ctx, "cache_broken")
	assert.False(t, ok)
}

func TestCacheDefaultTTL(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	h.queue.CacheData(ctx, "k", 1, 0)
	h.clock.Advance(DefaultCacheTTL - time.Second)

	var got int
	assert.True(t, h.queue.GetCachedData(ctx, "k", &got))
	assert.Equal(t, 1, got)
}

func TestPurgeExpiredCache(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()

	h.queue.CacheData(ctx, "short", 1, time.Second)
	h.queue.CacheData(ctx, "long", 2, time.Hour)
	require.NoError(t, h.store.Set(ctx, "cache_garbage", []byte("??")))
	require.NoError(t, h.store.Set(ctx, OfflineQueueKey, []byte("[]")))
	h.clock.Advance(time.Minute)

	assert.Equal(t, 2, h.queue.PurgeExpiredCache(ctx))

	var got int
	assert.True(t, h.queue.GetCachedData(ctx, "long", &got))
	_, ok, _ := h.store.Get(ctx, OfflineQueueKey)
	assert.True(t, ok)
}
