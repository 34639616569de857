package repository

import (
	"fmt"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/config"
	"github.com/dgraph-io/ristretto"
)

// LocalCache is an in-process L1 in front of Redis for hot slugs.
// Entries are dropped on local writes only, so other instances can serve them until the TTL passes.
type LocalCache struct {
	client *ristretto.Cache
	ttl    time.Duration
}

func NewLocalCache(cfg config.CacheConfig) (*LocalCache, error) {
	maxCost := int64(cfg.LocalMaxSizeMB) * 1024 * 1024
	if maxCost <= 0 {
		maxCost = 64 << 20
	}
	counters := cfg.LocalCounters
	if counters <= 0 {
		counters = 1_000_000
	}

	client, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache: %w", err)
	}

	return &LocalCache{client: client, ttl: cfg.LocalTTL}, nil
}

// Get is safe on a nil cache, which is how the L1 is disabled.
func (c *LocalCache) Get(key string) (interface{}, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	return c.client.Get(key)
}

// Set stores value with the configured TTL; cost is the approximate size in bytes.
func (c *LocalCache) Set(key string, value interface{}, cost int64) bool {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return false
	}
	return c.client.SetWithTTL(key, value, cost, c.ttl)
}

func (c *LocalCache) Delete(key string) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(key)
}

// Wait blocks until buffered writes are applied.
func (c *LocalCache) Wait() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Wait()
}

func (c *LocalCache) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Close()
}

type LocalCacheStats struct {
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	Added    uint64  `json:"keys_added"`
	Evicted  uint64  `json:"keys_evicted"`
	Rejected uint64  `json:"sets_rejected"`
	HitRatio float64 `json:"hit_ratio"`
}

func (c *LocalCache) Stats() LocalCacheStats {
	if c == nil || c.client == nil || c.client.Metrics == nil {
		return LocalCacheStats{}
	}

	m := c.client.Metrics
	return LocalCacheStats{
		Hits:     m.Hits(),
		Misses:   m.Misses(),
		Added:    m.KeysAdded(),
		Evicted:  m.KeysEvicted(),
		Rejected: m.SetsRejected(),
		HitRatio: m.Ratio(),
	}
}
