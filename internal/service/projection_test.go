package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/config"
	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/SergeiKhy/shortlink-core/internal/service"
	"github.com/SergeiKhy/shortlink-core/internal/service/mocks"
	"github.com/SergeiKhy/shortlink-core/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedProjectionSource_ReadThrough(t *testing.T) {
	rdb, mr := testutil.NewMiniRedis(t)
	urls := mocks.NewMockURLRepository()
	urls.Put(&models.URL{ID: "u-1", Slug: "rt", OriginalURL: "https://example.com", IsActive: true})

	source := service.NewCachedProjectionSource(
		service.NewStoreProjectionSource(urls, noRetry),
		repository.NewCacheRepository(rdb),
		service.CacheOptions{TTL: 30 * time.Second},
		nil,
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := source.Projection(ctx, "rt")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", p.OriginalURL)
	}

	assert.Equal(t, int64(1), urls.ProjectionCalls())
	assert.Equal(t, 30*time.Second, mr.TTL("url:rt"))

	require.NoError(t, source.Invalidate(ctx, "rt"))
	assert.False(t, mr.Exists("url:rt"))

	_, err := source.Projection(ctx, "rt")
	require.NoError(t, err)
	assert.Equal(t, int64(2), urls.ProjectionCalls())
}

func TestCachedProjectionSource_ReturnsCopies(t *testing.T) {
	rdb, _ := testutil.NewMiniRedis(t)
	urls := mocks.NewMockURLRepository()
	urls.Put(&models.URL{ID: "u-1", Slug: "copy", OriginalURL: "https://example.com", IsActive: true})

	source := service.NewCachedProjectionSource(
		service.NewStoreProjectionSource(urls, noRetry),
		repository.NewCacheRepository(rdb),
		service.CacheOptions{},
		nil,
	)

	first, err := source.Projection(context.Background(), "copy")
	require.NoError(t, err)
	first.IsActive = false

	second, err := source.Projection(context.Background(), "copy")
	require.NoError(t, err)
	assert.True(t, second.IsActive)
}

func TestCachedProjectionSource_LocalCacheServesWhenRedisFails(t *testing.T) {
	rdb, mr := testutil.NewMiniRedis(t)
	urls := mocks.NewMockURLRepository()
	urls.Put(&models.URL{ID: "u-1", Slug: "hot", OriginalURL: "https://example.com/hot", IsActive: true})

	local, err := repository.NewLocalCache(config.CacheConfig{LocalTTL: time.Minute, LocalMaxSizeMB: 1, LocalCounters: 1000})
	require.NoError(t, err)
	t.Cleanup(local.Close)

	source := service.NewCachedProjectionSource(
		service.NewStoreProjectionSource(urls, noRetry),
		repository.NewCacheRepository(rdb),
		service.CacheOptions{TTL: 30 * time.Second, Local: local},
		nil,
	)
	ctx := context.Background()

	_, err = source.Projection(ctx, "hot")
	require.NoError(t, err)
	local.Wait()

	mr.SetError("connection refused")

	p, err := source.Projection(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hot", p.OriginalURL)
	assert.Equal(t, int64(1), urls.ProjectionCalls())
	assert.Equal(t, uint64(1), local.Stats().Hits)
}

// slowSource отвечает с задержкой и уважает отмену контекста
type slowSource struct {
	delay time.Duration
	calls atomic.Int64
}

func (s *slowSource) Projection(ctx context.Context, slug string) (*models.URLProjection, error) {
	s.calls.Add(1)
	select {
	case <-time.After(s.delay):
		return &models.URLProjection{ID: "id-" + slug, Slug: slug, OriginalURL: "https://example.com/" + slug, IsActive: true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slowSource) Invalidate(context.Context, string) error { return nil }

func TestCachedProjectionSource_CancelledCallerDoesNotFailOthers(t *testing.T) {
	rdb, mr := testutil.NewMiniRedis(t)
	next := &slowSource{delay: 100 * time.Millisecond}
	source := service.NewCachedProjectionSource(next, repository.NewCacheRepository(rdb), service.CacheOptions{}, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := source.Projection(firstCtx, "hot")
		firstErr <- err
	}()

	// второй вызов присоединяется к уже идущему запросу
	time.Sleep(20 * time.Millisecond)
	secondDone := make(chan struct{})
	var (
		second    *models.URLProjection
		secondErr error
	)
	go func() {
		defer close(secondDone)
		second, secondErr = source.Projection(context.Background(), "hot")
	}()

	time.Sleep(20 * time.Millisecond)
	cancelFirst()

	assert.ErrorIs(t, <-firstErr, context.Canceled)

	<-secondDone
	require.NoError(t, secondErr)
	assert.Equal(t, "https://example.com/hot", second.OriginalURL)
	assert.Equal(t, int64(1), next.calls.Load())
	assert.True(t, mr.Exists("url:hot"))
}
