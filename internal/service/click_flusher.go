package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/SergeiKhy/shortlink-core/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFlushInterval    = 30 * time.Second
	defaultFlushParallelism = 4
	flushURLTimeout         = 10 * time.Second
)

// FlushResult итог одного прохода
type FlushResult struct {
	URLs      int `json:"urls"`
	Events    int `json:"events"`
	Failed    int `json:"failed"`
	Discarded int `json:"discarded"`
}

// ClickFlusher периодически переносит буфер кликов из Redis в PostgreSQL
type ClickFlusher interface {
	Flush(ctx context.Context) (FlushResult, error)
	Start()
	Stop()
}

// FlusherConfig параметры фонового сброса
type FlusherConfig struct {
	Interval    time.Duration
	Parallelism int
	Retry       retry.Policy
}

type clickFlusher struct {
	buffer      repository.ClickBuffer
	clicks      repository.ClickRepository
	source      ProjectionSource
	interval    time.Duration
	parallelism int
	retry       retry.Policy
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClickFlusher создаёт flusher; source используется для сброса кэша проекций после записи
func NewClickFlusher(
	buffer repository.ClickBuffer,
	clicks repository.ClickRepository,
	source ProjectionSource,
	cfg FlusherConfig,
	logger *zap.Logger,
) ClickFlusher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultFlushInterval
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultFlushParallelism
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &clickFlusher{
		buffer:      buffer,
		clicks:      clicks,
		source:      source,
		interval:    cfg.Interval,
		parallelism: cfg.Parallelism,
		retry:       cfg.Retry,
		logger:      logger,
	}
}

// Flush выполняет один проход. Ошибка возвращается только если не удалось забрать набор грязных URL;
// сбой на отдельном URL не останавливает остальные.
func (f *clickFlusher) Flush(ctx context.Context) (FlushResult, error) {
	urlIDs, err := f.buffer.PopDirty(ctx)
	if err != nil {
		return FlushResult{}, err
	}
	if len(urlIDs) == 0 {
		return FlushResult{}, nil
	}

	var events, failed, discarded atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(f.parallelism)
	for _, urlID := range urlIDs {
		g.Go(func() error {
			n, err := f.flushURL(ctx, urlID)
			switch {
			case errors.Is(err, repository.ErrURLNotFound):
				discarded.Add(1)
			case err != nil:
				failed.Add(1)
			default:
				events.Add(int64(n))
			}
			return nil
		})
	}
	_ = g.Wait()

	result := FlushResult{
		URLs:      len(urlIDs),
		Events:    int(events.Load()),
		Failed:    int(failed.Load()),
		Discarded: int(discarded.Load()),
	}
	f.logger.Info("Сброс кликов завершён",
		zap.Int("urls", result.URLs),
		zap.Int("events", result.Events),
		zap.Int("failed", result.Failed),
		zap.Int("discarded", result.Discarded),
	)
	return result, nil
}

// flushURL забирает буфер одного URL и пишет его одной транзакцией.
// При ошибке буфер возвращается в Redis для следующего прохода.
func (f *clickFlusher) flushURL(ctx context.Context, urlID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, flushURLTimeout)
	defer cancel()

	drain, err := f.buffer.Drain(ctx, urlID)
	if err != nil {
		f.logger.Error("Не удалось забрать буфер кликов", zap.String("url_id", urlID), zap.Error(err))
		f.restore(ctx, &repository.BufferDrain{URLID: urlID})
		return 0, err
	}
	if len(drain.Events) == 0 && drain.Unique == 0 {
		return 0, nil
	}

	batch := &models.ClickBatch{
		URLID:        urlID,
		Events:       decodeEvents(drain.Events, f.logger),
		UniqueClicks: drain.Unique,
	}

	slug, err := retry.Value(ctx, f.retry, func() (string, error) {
		slug, err := f.clicks.ApplyBatch(ctx, batch)
		if errors.Is(err, repository.ErrURLNotFound) {
			return "", retry.Permanent(err)
		}
		return slug, err
	})
	if errors.Is(err, repository.ErrURLNotFound) {
		f.logger.Warn("Ссылка удалена, клики отброшены",
			zap.String("url_id", urlID),
			zap.Int("events", len(batch.Events)),
		)
		return 0, err
	}
	if err != nil {
		f.logger.Error("Не удалось записать клики, возвращаем в буфер",
			zap.String("url_id", urlID),
			zap.Int("events", len(batch.Events)),
			zap.Error(err),
		)
		f.restore(ctx, drain)
		return 0, fmt.Errorf("flush %s: %w", urlID, err)
	}

	// totalClicks в БД вырос, а счётчик буфера обнулён: старую проекцию из кэша убираем
	if slug != "" && f.source != nil {
		if err := f.source.Invalidate(ctx, slug); err != nil {
			f.logger.Debug("Не удалось сбросить кэш проекции", zap.String("slug", slug), zap.Error(err))
		}
	}

	return len(batch.Events), nil
}

func (f *clickFlusher) restore(ctx context.Context, drain *repository.BufferDrain) {
	// исходный контекст мог истечь, возврат буфера важнее
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
	defer cancel()

	if err := f.buffer.Restore(rctx, drain); err != nil {
		f.logger.Error("Клики потеряны: не удалось вернуть буфер",
			zap.String("url_id", drain.URLID),
			zap.Int("events", len(drain.Events)),
			zap.Error(err),
		)
	}
}

func decodeEvents(raw []string, logger *zap.Logger) []models.ClickEvent {
	events := make([]models.ClickEvent, 0, len(raw))
	for _, item := range raw {
		var e models.ClickEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			logger.Warn("Пропущен повреждённый клик", zap.Error(err))
			continue
		}
		events = append(events, e)
	}
	return events
}

// Start запускает фоновый цикл сброса
func (f *clickFlusher) Start() {
	f.ctx, f.cancel = context.WithCancel(context.Background())

	f.wg.Add(1)
	go f.loop()

	f.logger.Info("Фоновый сброс кликов запущен", zap.Duration("interval", f.interval))
}

// Stop останавливает цикл и делает финальный сброс
func (f *clickFlusher) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	f.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), flushURLTimeout)
	defer cancel()
	if _, err := f.Flush(ctx); err != nil {
		f.logger.Error("Финальный сброс кликов не удался", zap.Error(err))
	}
}

func (f *clickFlusher) loop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
			if _, err := f.Flush(f.ctx); err != nil {
				f.logger.Error("Сброс кликов не удался", zap.Error(err))
			}
		}
	}
}
