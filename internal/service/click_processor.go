package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"go.uber.org/zap"
)

// Константы worker pool
const (
	defaultWorkerCount   = 3    // Количество воркеров
	defaultChannelBuffer = 1000 // Размер буфера канала
	defaultBatchSize     = 50   // Максимум кликов в одном пайплайне
	jobTimeout           = 5 * time.Second
)

// ClickJob событие клика вместе с владельцем ссылки для учёта тарифа
type ClickJob struct {
	Click   models.ClickInput
	OwnerID string
}

// ClickProcessor интерфейс для асинхронной обработки кликов после редиректа
type ClickProcessor interface {
	Start()
	Stop()
	Submit(job ClickJob) bool
	Stats() ChannelStats
}

// ProcessorConfig параметры worker pool
type ProcessorConfig struct {
	Workers    int
	BufferSize int
	BatchSize  int
}

// clickProcessor реализация процессора кликов с использованием Worker Pool
type clickProcessor struct {
	recorder    ClickRecorder
	throttle    UsageThrottle
	logger      *zap.Logger
	jobs        chan ClickJob // Канал для событий кликов
	workerCount int           // Количество воркеров
	batchSize   int
	wg          sync.WaitGroup // WaitGroup для ожидания завершения воркеров
	mu          sync.RWMutex
	closed      bool
}

// NewClickProcessor создаёт новый экземпляр процессора кликов
func NewClickProcessor(recorder ClickRecorder, throttle UsageThrottle, cfg ProcessorConfig, logger *zap.Logger) ClickProcessor {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerCount
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultChannelBuffer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &clickProcessor{
		recorder:    recorder,
		throttle:    throttle,
		logger:      logger,
		jobs:        make(chan ClickJob, cfg.BufferSize),
		workerCount: cfg.Workers,
		batchSize:   cfg.BatchSize,
	}
}

// Start запускает worker pool
func (p *clickProcessor) Start() {
	p.logger.Info("Запуск воркеров процессора кликов", zap.Int("count", p.workerCount))

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop закрывает канал и ждёт, пока воркеры обработают уже принятые клики
func (p *clickProcessor) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info("Остановка процессора кликов...")
	p.wg.Wait()
	p.logger.Info("Процессор кликов остановлен")
}

// worker забирает клики пачками: первый блокирующе, остальные пока канал не пуст
func (p *clickProcessor) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("Воркер кликов запущен", zap.Int("id", id))

	batch := make([]ClickJob, 0, p.batchSize)
	for job := range p.jobs {
		batch = append(batch[:0], job)
	fill:
		for len(batch) < p.batchSize {
			select {
			case next, ok := <-p.jobs:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}
		p.process(batch)
	}

	p.logger.Debug("Воркер кликов остановлен", zap.Int("id", id))
}

// process записывает пачку кликов и списывает click_tracking у владельцев ссылок
func (p *clickProcessor) process(batch []ClickJob) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	inputs := make([]models.ClickInput, len(batch))
	for i, job := range batch {
		inputs[i] = job.Click
	}
	p.recorder.RecordBatch(ctx, inputs)

	if p.throttle == nil {
		return
	}
	for _, job := range batch {
		if job.OwnerID == "" {
			continue
		}
		allowed, err := p.throttle.Consume(ctx, job.OwnerID, models.FeatureClickTracking, 1)
		switch {
		case err != nil && (errors.Is(err, ErrNoActiveSubscription) || errors.Is(err, ErrFeatureNotInPlan)):
			p.logger.Debug("Учёт click_tracking пропущен",
				zap.String("owner_id", job.OwnerID),
				zap.Error(err),
			)
		case err != nil:
			p.logger.Warn("Не удалось списать click_tracking",
				zap.String("owner_id", job.OwnerID),
				zap.Error(err),
			)
		case !allowed:
			p.logger.Debug("Лимит click_tracking исчерпан", zap.String("owner_id", job.OwnerID))
		}
	}
}

// Submit отправляет клик в worker pool (неблокирующая операция)
func (p *clickProcessor) Submit(job ClickJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		// Канал заполнен, логируем предупреждение, но не блокируем запрос
		p.logger.Warn("Буфер канала кликов заполнен, событие потеряно",
			zap.String("url_id", job.Click.URLID),
		)
		return false
	}
}

// Stats возвращает статистику канала для мониторинга
func (p *clickProcessor) Stats() ChannelStats {
	return ChannelStats{
		BufferSize:  cap(p.jobs),
		BufferUsed:  len(p.jobs),
		WorkerCount: p.workerCount,
	}
}

// ChannelStats статистика канала worker pool
type ChannelStats struct {
	BufferSize  int `json:"buffer_size"`  // Общая ёмкость канала
	BufferUsed  int `json:"buffer_used"`  // Текущее использование
	WorkerCount int `json:"worker_count"` // Количество воркеров
}
