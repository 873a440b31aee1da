package resilience

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	cacheKeyPrefix = "cache_"

	// DefaultCacheTTL applies when CacheData is given a non-positive ttl.
	DefaultCacheTTL = time.Hour
)

// cacheEntry is the durable cache envelope; times are Unix milliseconds.
type cacheEntry struct {
	Data           json.RawMessage `json:"data"`
	Timestamp      int64           `json:"timestamp"`
	ExpirationTime int64           `json:"expirationTime"`
}

func cacheKey(key string) string {
	return cacheKeyPrefix + key
}

// CacheData stores value under key for ttl. It reports whether the value was
// stored; failures are logged, never returned.
func (q *Queue) CacheData(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		q.logger.Error("Failed to marshal cache value", zap.String("key", key), zap.Error(err))
		return false
	}

	now := q.now()
	raw, err := json.Marshal(cacheEntry{
		Data:           data,
		Timestamp:      now.UnixMilli(),
		ExpirationTime: now.Add(ttl).UnixMilli(),
	})
	if err != nil {
		q.logger.Error("Failed to marshal cache entry", zap.String("key", key), zap.Error(err))
		return false
	}

	if err := q.store.Set(ctx, cacheKey(key), raw); err != nil {
		q.logger.Error("Failed to write cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// GetCachedData decodes the cached value for key into dest and reports
// whether a fresh value was found. Expired or corrupt entries are deleted.
func (q *Queue) GetCachedData(ctx context.Context, key string, dest any) bool {
	raw, ok, err := q.store.Get(ctx, cacheKey(key))
	if err != nil {
		q.logger.Error("Failed to read cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}

	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		q.logger.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		q.deleteCacheKey(ctx, cacheKey(key))
		return false
	}

	if q.now().UnixMilli() > entry.ExpirationTime {
		q.deleteCacheKey(ctx, cacheKey(key))
		return false
	}

	if err := json.Unmarshal(entry.Data, dest); err != nil {
		q.logger.Warn("cached value does not match destination", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// PurgeExpiredCache removes every expired or unreadable cache entry and
// returns how many were removed.
func (q *Queue) PurgeExpiredCache(ctx context.Context) int {
	keys, err := q.store.Keys(ctx, cacheKeyPrefix)
	if err != nil {
		q.logger.Error("Failed to list cache entries", zap.Error(err))
		return 0
	}

	now := q.now().UnixMilli()
	purged := 0
	for _, k := range keys {
		if !strings.HasPrefix(k, cacheKeyPrefix) {
			continue
		}
		raw, ok, err := q.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var entry cacheEntry
		if err := json.Unmarshal(raw, &entry); err == nil && now <= entry.ExpirationTime {
			continue
		}
		if q.deleteCacheKey(ctx, k) {
			purged++
		}
	}

	if purged > 0 {
		q.logger.Info("purged expired cache entries", zap.Int("count", purged))
	}
	return purged
}

// RunCacheSweeper purges expired entries on every tick until ctx is done.
func (q *Queue) RunCacheSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.PurgeExpiredCache(ctx)
		}
	}
}

func (q *Queue) deleteCacheKey(ctx context.Context, key string) bool {
	if err := q.store.Delete(ctx, key); err != nil {
		q.logger.Error("Failed to delete cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
