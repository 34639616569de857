package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/SergeiKhy/shortlink-core/internal/retry"
	"github.com/SergeiKhy/shortlink-core/internal/service"
	"github.com/SergeiKhy/shortlink-core/internal/service/mocks"
	"github.com/SergeiKhy/shortlink-core/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var noRetry = retry.Policy{
	MaxAttempts:     1,
	InitialInterval: time.Millisecond,
	MaxInterval:     time.Millisecond,
}

// inlineProcessor records clicks synchronously so tests can flush right after resolving
type inlineProcessor struct {
	mu       sync.Mutex
	recorder service.ClickRecorder
	jobs     []service.ClickJob
}

func (p *inlineProcessor) Start() {}
func (p *inlineProcessor) Stop()  {}

func (p *inlineProcessor) Submit(job service.ClickJob) bool {
	p.recorder.Record(context.Background(), job.Click)
	p.mu.Lock()
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()
	return true
}

func (p *inlineProcessor) Stats() service.ChannelStats {
	return service.ChannelStats{}
}

func (p *inlineProcessor) submitted() []service.ClickJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]service.ClickJob(nil), p.jobs...)
}

// pipeline is the redirect path wired against miniredis and in-memory repositories
type pipeline struct {
	urls      *mocks.MockURLRepository
	clicks    *mocks.MockClickRepository
	mr        *miniredis.Miniredis
	cache     repository.Cache
	buffer    repository.ClickBuffer
	source    service.ProjectionSource
	recorder  service.ClickRecorder
	processor *inlineProcessor
	resolver  service.Resolver
	flusher   service.ClickFlusher
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	rdb, mr := testutil.NewMiniRedis(t)
	urls := mocks.NewMockURLRepository()
	clicks := mocks.NewMockClickRepository(urls)
	cache := repository.NewCacheRepository(rdb)
	buffer := repository.NewClickBuffer(rdb)

	source := service.NewCachedProjectionSource(
		service.NewStoreProjectionSource(urls, noRetry),
		cache,
		service.CacheOptions{TTL: 30 * time.Second, OpTimeout: time.Second},
		nil,
	)
	recorder := service.NewClickRecorder(buffer, 24*time.Hour, nil)
	processor := &inlineProcessor{recorder: recorder}

	return &pipeline{
		urls:      urls,
		clicks:    clicks,
		mr:        mr,
		cache:     cache,
		buffer:    buffer,
		source:    source,
		recorder:  recorder,
		processor: processor,
		resolver:  service.NewResolver(source, buffer, processor, nil),
		flusher:   service.NewClickFlusher(buffer, clicks, source, service.FlusherConfig{Retry: noRetry}, nil),
	}
}

func (p *pipeline) addURL(t *testing.T, u *models.URL) *models.URL {
	t.Helper()
	if u.ID == "" {
		u.ID = "id-" + u.Slug
	}
	if u.OriginalURL == "" {
		u.OriginalURL = "https://example.com/" + u.Slug
	}
	p.urls.Put(u)
	return u
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func ptr[T any](v T) *T {
	return &v
}
