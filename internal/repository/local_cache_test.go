package repository_test

import (
	"testing"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/config"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCache_NilIsDisabled(t *testing.T) {
	var cache *repository.LocalCache

	assert.False(t, cache.Set("k", "v", 1))
	_, ok := cache.Get("k")
	assert.False(t, ok)
	assert.NotPanics(t, func() {
		cache.Delete("k")
		cache.Wait()
		cache.Close()
	})
	assert.Equal(t, repository.LocalCacheStats{}, cache.Stats())
}

func TestLocalCache_SetGetDelete(t *testing.T) {
	cache, err := repository.NewLocalCache(config.CacheConfig{
		LocalTTL:       time.Minute,
		LocalMaxSizeMB: 1,
		LocalCounters:  1000,
	})
	require.NoError(t, err)
	defer cache.Close()

	require.True(t, cache.Set("url:a", "projection", 10))
	cache.Wait()

	v, ok := cache.Get("url:a")
	require.True(t, ok)
	assert.Equal(t, "projection", v)

	cache.Delete("url:a")
	_, ok = cache.Get("url:a")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestLocalCache_ZeroTTLDisablesWrites(t *testing.T) {
	cache, err := repository.NewLocalCache(config.CacheConfig{LocalMaxSizeMB: 1, LocalCounters: 1000})
	require.NoError(t, err)
	defer cache.Close()

	assert.False(t, cache.Set("url:a", "projection", 10))
}
