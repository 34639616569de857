package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/SergeiKhy/shortlink-core/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultProjectionTTL = 30 * time.Second
	defaultCacheTimeout  = 500 * time.Millisecond
	defaultLoadTimeout   = 5 * time.Second
)

// ProjectionSource отдаёт минимальную проекцию ссылки для горячего пути редиректа
type ProjectionSource interface {
	Projection(ctx context.Context, slug string) (*models.URLProjection, error)
	Invalidate(ctx context.Context, slug string) error
}

func projectionKey(slug string) string {
	return "url:" + slug
}

// storeProjectionSource читает проекцию напрямую из PostgreSQL
type storeProjectionSource struct {
	repo  repository.URLRepository
	retry retry.Policy
}

// NewStoreProjectionSource создаёт источник проекций без кэша
func NewStoreProjectionSource(repo repository.URLRepository, policy retry.Policy) ProjectionSource {
	return &storeProjectionSource{repo: repo, retry: policy}
}

func (s *storeProjectionSource) Projection(ctx context.Context, slug string) (*models.URLProjection, error) {
	return retry.Value(ctx, s.retry, func() (*models.URLProjection, error) {
		p, err := s.repo.GetProjectionBySlug(ctx, slug)
		if errors.Is(err, repository.ErrURLNotFound) {
			return nil, retry.Permanent(ErrNotFound)
		}
		return p, err
	})
}

func (s *storeProjectionSource) Invalidate(ctx context.Context, slug string) error {
	return nil
}

// CacheOptions параметры read-through кэша проекций
type CacheOptions struct {
	TTL       time.Duration
	OpTimeout time.Duration
	// LoadTimeout ограничивает общий запрос в БД при промахе; он не зависит от контекста первого вызывающего
	LoadTimeout time.Duration
	Local       *repository.LocalCache
}

// cachedProjectionSource декоратор read-through: L1 (ristretto) -> Redis -> следующий источник.
// Ошибки Redis не прерывают запрос, чтение уходит в БД.
type cachedProjectionSource struct {
	next   ProjectionSource
	cache  repository.Cache
	local  *repository.LocalCache
	ttl    time.Duration
	opTTL  time.Duration
	load   time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewCachedProjectionSource оборачивает источник проекций кэшем
func NewCachedProjectionSource(next ProjectionSource, cache repository.Cache, opts CacheOptions, logger *zap.Logger) ProjectionSource {
	if opts.TTL <= 0 {
		opts.TTL = defaultProjectionTTL
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultCacheTimeout
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &cachedProjectionSource{
		next:   next,
		cache:  cache,
		local:  opts.Local,
		ttl:    opts.TTL,
		opTTL:  opts.OpTimeout,
		load:   opts.LoadTimeout,
		logger: logger,
	}
}

func (s *cachedProjectionSource) Projection(ctx context.Context, slug string) (*models.URLProjection, error) {
	key := projectionKey(slug)

	if v, ok := s.local.Get(key); ok {
		if p, ok := v.(*models.URLProjection); ok {
			return copyProjection(p), nil
		}
	}

	if p, ok := s.fromCache(ctx, key); ok {
		s.local.Set(key, p, projectionCost(p))
		return copyProjection(p), nil
	}

	// Одновременные промахи по одному slug схлопываются в один запрос к БД.
	// Общий запрос идёт в отвязанном контексте: отмена одного клиента не должна ронять остальных.
	ch := s.group.DoChan(slug, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.load)
		defer cancel()

		p, err := s.next.Projection(lctx, slug)
		if err != nil {
			return nil, err
		}
		s.store(lctx, key, p)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyProjection(res.Val.(*models.URLProjection)), nil
	}
}

func (s *cachedProjectionSource) fromCache(ctx context.Context, key string) (*models.URLProjection, bool) {
	cctx, cancel := context.WithTimeout(ctx, s.opTTL)
	defer cancel()

	raw, err := s.cache.Get(cctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrCacheMiss) {
			s.logger.Warn("Кэш недоступен, читаем проекцию из БД", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var p models.URLProjection
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		s.logger.Warn("Повреждённая проекция в кэше", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &p, true
}

func (s *cachedProjectionSource) store(ctx context.Context, key string, p *models.URLProjection) {
	data, err := json.Marshal(p)
	if err != nil {
		s.logger.Warn("Не удалось сериализовать проекцию", zap.String("key", key), zap.Error(err))
		return
	}

	cctx, cancel := context.WithTimeout(ctx, s.opTTL)
	defer cancel()

	if err := s.cache.Set(cctx, key, string(data), s.ttl); err != nil {
		s.logger.Warn("Не удалось закэшировать проекцию", zap.String("key", key), zap.Error(err))
	}
	s.local.Set(key, p, int64(len(data)))
}

func (s *cachedProjectionSource) Invalidate(ctx context.Context, slug string) error {
	key := projectionKey(slug)
	s.local.Delete(key)

	cctx, cancel := context.WithTimeout(ctx, s.opTTL)
	defer cancel()

	if err := s.cache.Delete(cctx, key); err != nil {
		return err
	}
	return s.next.Invalidate(ctx, slug)
}

func copyProjection(p *models.URLProjection) *models.URLProjection {
	cp := *p
	return &cp
}

func projectionCost(p *models.URLProjection) int64 {
	return int64(len(p.ID) + len(p.Slug) + len(p.OriginalURL) + len(p.PasswordHash) + 64)
}
