package queue

import (
	"context"
	"sync"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/SergeiKhy/shortlink-core/internal/retry"
	"go.uber.org/zap"
)

const (
	defaultWorkerCount = 2
	defaultBufferSize  = 500
	jobTimeout         = 5 * time.Second
)

// MemoryQueue is an in-process worker pool over a buffered channel.
type MemoryQueue struct {
	jobs        chan models.UsageSyncJob
	workerCount int
	retry       retry.Policy
	logger      *zap.Logger

	mu      sync.RWMutex
	closed  bool
	handler Handler
	wg      sync.WaitGroup
}

func NewMemoryQueue(workers, buffer int, policy retry.Policy, logger *zap.Logger) *MemoryQueue {
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryQueue{
		jobs:        make(chan models.UsageSyncJob, buffer),
		workerCount: workers,
		retry:       policy,
		logger:      logger,
	}
}

// Publish never blocks the caller; a full buffer is reported as ErrQueueFull.
func (q *MemoryQueue) Publish(ctx context.Context, job models.UsageSyncJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Start(handler Handler) error {
	q.handler = handler
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("Usage queue workers started", zap.Int("count", q.workerCount))
	return nil
}

// Stop closes the channel and waits for the workers to finish what was already queued.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("Usage queue stopped")
}

func (q *MemoryQueue) worker(id int) {
	defer q.wg.Done()

	for job := range q.jobs {
		q.process(job)
	}
	q.logger.Debug("Usage queue worker exited", zap.Int("id", id))
}

func (q *MemoryQueue) process(job models.UsageSyncJob) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	err := retry.Do(ctx, q.retry, func() error {
		return q.handler(ctx, job)
	})
	if err != nil {
		q.logger.Error("Failed to sync feature usage",
			zap.String("user_id", job.UserID),
			zap.String("feature", job.FeatureKey),
			zap.Int64("used", job.Used),
			zap.Error(err),
		)
	}
}

type Stats struct {
	BufferSize  int `json:"buffer_size"`
	BufferUsed  int `json:"buffer_used"`
	WorkerCount int `json:"worker_count"`
}

func (q *MemoryQueue) Stats() Stats {
	return Stats{
		BufferSize:  cap(q.jobs),
		BufferUsed:  len(q.jobs),
		WorkerCount: q.workerCount,
	}
}
