package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/SergeiKhy/shortlink-core/internal/service"
	"github.com/stretchr/testify/assert"
)

type countingRecorder struct {
	mu      sync.Mutex
	clicks  []models.ClickInput
	batches int
}

func (r *countingRecorder) Record(ctx context.Context, in models.ClickInput) {
	r.RecordBatch(ctx, []models.ClickInput{in})
}

func (r *countingRecorder) RecordBatch(ctx context.Context, in []models.ClickInput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks = append(r.clicks, in...)
	r.batches++
}

func (r *countingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clicks)
}

type countingThrottle struct {
	service.UsageThrottle
	mu       sync.Mutex
	consumed map[string]int64
}

func (c *countingThrottle) Consume(ctx context.Context, userID, feature string, amount int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumed[userID+":"+feature] += amount
	return true, nil
}

func TestClickProcessor_StopDrainsAcceptedJobs(t *testing.T) {
	recorder := &countingRecorder{}
	throttle := &countingThrottle{consumed: make(map[string]int64)}
	processor := service.NewClickProcessor(recorder, throttle, service.ProcessorConfig{
		Workers:    2,
		BufferSize: 100,
		BatchSize:  10,
	}, nil)
	processor.Start()

	accepted := 0
	for i := 0; i < 60; i++ {
		job := service.ClickJob{Click: models.ClickInput{URLID: "u1", IPAddress: "10.0.0.1"}}
		if i%2 == 0 {
			job.OwnerID = "owner-1"
		}
		if processor.Submit(job) {
			accepted++
		}
	}
	processor.Stop()

	assert.Equal(t, 60, accepted)
	assert.Equal(t, 60, recorder.count())
	assert.Equal(t, int64(30), throttle.consumed["owner-1:"+models.FeatureClickTracking])
}

func TestClickProcessor_SubmitAfterStop(t *testing.T) {
	processor := service.NewClickProcessor(&countingRecorder{}, nil, service.ProcessorConfig{Workers: 1}, nil)
	processor.Start()
	processor.Stop()

	assert.False(t, processor.Submit(service.ClickJob{Click: models.ClickInput{URLID: "u1"}}))
	assert.NotPanics(t, processor.Stop)
}

func TestClickProcessor_DropsWhenBufferFull(t *testing.T) {
	// воркеры не запущены, поэтому канал только заполняется
	processor := service.NewClickProcessor(&countingRecorder{}, nil, service.ProcessorConfig{BufferSize: 2}, nil)

	assert.True(t, processor.Submit(service.ClickJob{}))
	assert.True(t, processor.Submit(service.ClickJob{}))
	assert.False(t, processor.Submit(service.ClickJob{}))

	stats := processor.Stats()
	assert.Equal(t, 2, stats.BufferSize)
	assert.Equal(t, 2, stats.BufferUsed)
	assert.Equal(t, 3, stats.WorkerCount)
}
