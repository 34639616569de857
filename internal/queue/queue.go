// Package queue carries usage sync jobs from the throttle to the durable store.
package queue

import (
	"context"
	"errors"

	"github.com/SergeiKhy/shortlink-core/internal/models"
)

var (
	ErrQueueFull   = errors.New("usage queue is full")
	ErrQueueClosed = errors.New("usage queue is closed")
)

// Handler persists one job. Returning an error asks the queue to redeliver it.
type Handler func(ctx context.Context, job models.UsageSyncJob) error

type UsageQueue interface {
	Publish(ctx context.Context, job models.UsageSyncJob) error
	Start(handler Handler) error
	Stop()
}
