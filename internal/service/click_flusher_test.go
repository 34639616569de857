package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/SergeiKhy/shortlink-core/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordN(p *pipeline, urlID string, n int, ipPrefix string) {
	for i := 0; i < n; i++ {
		p.recorder.Record(context.Background(), models.ClickInput{
			URLID:     urlID,
			IPAddress: ipPrefix + string(rune('a'+i)),
			UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148 Safari/604.1",
			At:        time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		})
	}
}

func TestClickFlusher_Flush_Empty(t *testing.T) {
	p := newPipeline(t)

	result, err := p.flusher.Flush(context.Background())

	require.NoError(t, err)
	assert.Equal(t, service.FlushResult{}, result)
	assert.Zero(t, p.clicks.Batches())
}

func TestClickFlusher_Flush_RoundTrip(t *testing.T) {
	p := newPipeline(t)
	u1 := p.addURL(t, &models.URL{Slug: "one", IsActive: true})
	u2 := p.addURL(t, &models.URL{Slug: "two", IsActive: true})

	recordN(p, u1.ID, 3, "10.0.1.")
	recordN(p, u2.ID, 2, "10.0.2.")

	result, err := p.flusher.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.URLs)
	assert.Equal(t, 5, result.Events)
	assert.Zero(t, result.Failed)

	events := p.clicks.Events(u1.ID)
	require.Len(t, events, 3)
	assert.Equal(t, "Mobile", events[0].Device)
	assert.Equal(t, "iOS", events[0].OS)
	assert.Len(t, p.clicks.Events(u2.ID), 2)
	assert.Equal(t, int64(3), p.clicks.UniqueClicks(u1.ID))

	// буфер пуст, повторный проход ничего не пишет
	assert.False(t, p.mr.Exists("clicks:"+u1.ID))
	assert.False(t, p.mr.Exists("clickCount:"+u1.ID))
	assert.False(t, p.mr.Exists("activeUrls"))

	again, err := p.flusher.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Events)
	assert.Len(t, p.clicks.Events(u1.ID), 3)
}

func TestClickFlusher_Flush_PartialFailureRestoresBuffer(t *testing.T) {
	p := newPipeline(t)
	ok := p.addURL(t, &models.URL{Slug: "ok", IsActive: true})
	bad := p.addURL(t, &models.URL{Slug: "bad", IsActive: true})

	recordN(p, ok.ID, 2, "10.1.0.")
	recordN(p, bad.ID, 4, "10.2.0.")
	p.clicks.FailNext(bad.ID, 1)

	result, err := p.flusher.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, result.Events)
	assert.Len(t, p.clicks.Events(ok.ID), 2)
	assert.Empty(t, p.clicks.Events(bad.ID))

	pending, err := p.mr.List("clicks:" + bad.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
	dirty, err := p.mr.Members("activeUrls")
	require.NoError(t, err)
	assert.Equal(t, []string{bad.ID}, dirty)
	count, err := p.mr.Get("clickCount:" + bad.ID)
	require.NoError(t, err)
	assert.Equal(t, "4", count)

	result, err = p.flusher.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Failed)
	assert.Len(t, p.clicks.Events(bad.ID), 4)
	assert.Equal(t, int64(4), p.clicks.UniqueClicks(bad.ID))
}

func TestClickFlusher_Flush_DeletedURLIsDiscarded(t *testing.T) {
	p := newPipeline(t)
	recordN(p, "gone", 3, "10.3.0.")

	result, err := p.flusher.Flush(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Discarded)
	assert.False(t, p.mr.Exists("clicks:gone"))
	assert.False(t, p.mr.Exists("activeUrls"))
}

func TestClickFlusher_Flush_InvalidatesProjection(t *testing.T) {
	p := newPipeline(t)
	u := p.addURL(t, &models.URL{Slug: "fresh", IsActive: true})
	ctx := context.Background()

	_, err := p.resolver.Resolve(ctx, service.ResolveRequest{Slug: "fresh", ClientIP: "10.9.9.9"})
	require.NoError(t, err)
	require.True(t, p.mr.Exists("url:fresh"))

	_, err = p.flusher.Flush(ctx)
	require.NoError(t, err)

	assert.False(t, p.mr.Exists("url:fresh"))
	stored, err := p.urls.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TotalClicks)
}

func TestClickFlusher_StopFlushesRemaining(t *testing.T) {
	p := newPipeline(t)
	u := p.addURL(t, &models.URL{Slug: "loop", IsActive: true})

	flusher := service.NewClickFlusher(p.buffer, p.clicks, p.source, service.FlusherConfig{
		Interval: time.Hour,
		Retry:    noRetry,
	}, nil)
	flusher.Start()

	recordN(p, u.ID, 2, "10.4.0.")
	flusher.Stop()

	assert.Len(t, p.clicks.Events(u.ID), 2)
}
