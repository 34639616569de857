package repository_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/SergeiKhy/shortlink-core/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRepository_GetSetDelete(t *testing.T) {
	rdb, mr := testutil.NewMiniRedis(t)
	cache := repository.NewCacheRepository(rdb)
	ctx := context.Background()

	_, err := cache.Get(ctx, "url:none")
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, "url:a", `{"id":"1"}`, 30*time.Second))
	v, err := cache.Get(ctx, "url:a")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, v)
	assert.Equal(t, 30*time.Second, mr.TTL("url:a"))

	require.NoError(t, cache.Delete(ctx, "url:a", "url:none"))
	assert.False(t, mr.Exists("url:a"))
	require.NoError(t, cache.Delete(ctx))
}

func TestCacheRepository_SetNX(t *testing.T) {
	rdb, _ := testutil.NewMiniRedis(t)
	cache := repository.NewCacheRepository(rdb)
	ctx := context.Background()

	ok, err := cache.SetNX(ctx, "counter", "4", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.SetNX(ctx, "counter", "0", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := cache.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "4", v)
}

func TestCacheRepository_IncrWithinLimit(t *testing.T) {
	rdb, mr := testutil.NewMiniRedis(t)
	cache := repository.NewCacheRepository(rdb)
	ctx := context.Background()

	_, _, err := cache.IncrWithinLimit(ctx, "usage", 1, 5)
	assert.ErrorIs(t, err, repository.ErrCacheMiss)

	require.NoError(t, mr.Set("usage", "4"))
	mr.SetTTL("usage", time.Minute)

	used, ok, err := cache.IncrWithinLimit(ctx, "usage", 1, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), used)

	used, ok, err = cache.IncrWithinLimit(ctx, "usage", 1, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(5), used)

	assert.Equal(t, time.Minute, mr.TTL("usage"))

	require.NoError(t, mr.Set("big", "10"))
	used, ok, err = cache.IncrWithinLimit(ctx, "big", 3, math.MaxInt64)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(13), used)
}

func TestCacheRepository_Unavailable(t *testing.T) {
	rdb, mr := testutil.NewMiniRedis(t)
	cache := repository.NewCacheRepository(rdb)
	mr.SetError("READONLY You can't write against a read only replica.")

	_, err := cache.Get(context.Background(), "url:a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrCacheMiss)
}
