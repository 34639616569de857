package mocks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/SergeiKhy/shortlink-core/internal/queue"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
)

// ErrUnavailable simulates a backend outage
var ErrUnavailable = errors.New("backend unavailable")

// MockURLRepository implements repository.URLRepository for testing
type MockURLRepository struct {
	mu              sync.RWMutex
	urls            map[string]*models.URL // id -> url
	slugs           map[string]string      // slug -> id
	projectionCalls atomic.Int64
}

func NewMockURLRepository() *MockURLRepository {
	return &MockURLRepository{
		urls:  make(map[string]*models.URL),
		slugs: make(map[string]string),
	}
}

func (m *MockURLRepository) Create(ctx context.Context, url *models.URL) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.slugs[url.Slug]; exists {
		return repository.ErrSlugExists
	}

	now := time.Now().UTC()
	if url.CreatedAt.IsZero() {
		url.CreatedAt = now
	}
	url.UpdatedAt = now

	stored := *url
	m.urls[url.ID] = &stored
	m.slugs[url.Slug] = url.ID
	return nil
}

func (m *MockURLRepository) GetByID(ctx context.Context, id string) (*models.URL, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url, exists := m.urls[id]
	if !exists {
		return nil, repository.ErrURLNotFound
	}
	cp := *url
	return &cp, nil
}

func (m *MockURLRepository) GetBySlug(ctx context.Context, slug string) (*models.URL, error) {
	m.mu.RLock()
	id, exists := m.slugs[slug]
	m.mu.RUnlock()
	if !exists {
		return nil, repository.ErrURLNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *MockURLRepository) GetProjectionBySlug(ctx context.Context, slug string) (*models.URLProjection, error) {
	m.projectionCalls.Add(1)

	url, err := m.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return url.Projection(), nil
}

// ProjectionCalls counts store lookups on the redirect path
func (m *MockURLRepository) ProjectionCalls() int64 {
	return m.projectionCalls.Load()
}

func (m *MockURLRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.slugs[slug]
	return exists, nil
}

func (m *MockURLRepository) Update(ctx context.Context, url *models.URL) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.urls[url.ID]
	if !exists {
		return repository.ErrURLNotFound
	}

	stored := *url
	stored.Slug = current.Slug
	stored.TotalClicks = current.TotalClicks
	stored.UpdatedAt = time.Now().UTC()
	m.urls[url.ID] = &stored
	return nil
}

func (m *MockURLRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	url, exists := m.urls[id]
	if !exists {
		return repository.ErrURLNotFound
	}
	delete(m.slugs, url.Slug)
	delete(m.urls, id)
	return nil
}

func (m *MockURLRepository) ListByOwner(ctx context.Context, ownerID string, limit int, afterID string) ([]*models.URL, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var owned []*models.URL
	for _, url := range m.urls {
		if url.OwnerID != nil && *url.OwnerID == ownerID {
			cp := *url
			owned = append(owned, &cp)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	if afterID != "" {
		for i, url := range owned {
			if url.ID == afterID {
				owned = owned[i+1:]
				break
			}
		}
	}
	if len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, nil
}

// Put stores a URL as-is, bypassing slug checks
func (m *MockURLRepository) Put(url *models.URL) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *url
	m.urls[url.ID] = &stored
	m.slugs[url.Slug] = url.ID
}

func (m *MockURLRepository) incrementClicks(id string, n int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	url, exists := m.urls[id]
	if !exists {
		return "", false
	}
	url.TotalClicks += n
	return url.Slug, true
}

// MockClickRepository implements repository.ClickRepository on top of a MockURLRepository
type MockClickRepository struct {
	mu       sync.RWMutex
	urls     *MockURLRepository
	events   map[string][]models.ClickEvent // url_id -> events
	unique   map[string]int64
	batches  []*models.ClickBatch
	failures map[string]int
}

func NewMockClickRepository(urls *MockURLRepository) *MockClickRepository {
	return &MockClickRepository{
		urls:     urls,
		events:   make(map[string][]models.ClickEvent),
		unique:   make(map[string]int64),
		failures: make(map[string]int),
	}
}

// FailNext makes the next n ApplyBatch calls for urlID fail with ErrUnavailable
func (m *MockClickRepository) FailNext(urlID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[urlID] = n
}

func (m *MockClickRepository) ApplyBatch(ctx context.Context, batch *models.ClickBatch) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures[batch.URLID] > 0 {
		m.failures[batch.URLID]--
		return "", ErrUnavailable
	}

	slug, ok := m.urls.incrementClicks(batch.URLID, int64(len(batch.Events)))
	if !ok {
		return "", repository.ErrURLNotFound
	}

	m.events[batch.URLID] = append(m.events[batch.URLID], batch.Events...)
	m.unique[batch.URLID] += batch.UniqueClicks
	m.batches = append(m.batches, batch)
	return slug, nil
}

func (m *MockClickRepository) GetAnalytics(ctx context.Context, urlID string, from, to time.Time) (*models.URLAnalytics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	analytics := &models.URLAnalytics{URLID: urlID, UniqueClicks: m.unique[urlID]}
	byDate := make(map[string]int64)
	for _, e := range m.events[urlID] {
		if e.ClickedAt.Before(from) || !e.ClickedAt.Before(to) {
			continue
		}
		analytics.TotalClicks++
		byDate[e.ClickedAt.UTC().Format("2006-01-02")]++
	}
	for date, n := range byDate {
		analytics.ClicksByDate = append(analytics.ClicksByDate, models.DateCount{Date: date, Clicks: n})
	}
	sort.Slice(analytics.ClicksByDate, func(i, j int) bool {
		return analytics.ClicksByDate[i].Date < analytics.ClicksByDate[j].Date
	})
	return analytics, nil
}

// Events returns every persisted event for urlID
func (m *MockClickRepository) Events(urlID string) []models.ClickEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ClickEvent(nil), m.events[urlID]...)
}

// UniqueClicks returns the persisted unique counter for urlID
func (m *MockClickRepository) UniqueClicks(urlID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unique[urlID]
}

func (m *MockClickRepository) Batches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.batches)
}

// MockSubscriptionRepository implements repository.SubscriptionRepository for testing
type MockSubscriptionRepository struct {
	mu        sync.RWMutex
	subs      map[string]*models.Subscription
	roles     map[string]string
	subCalls  atomic.Int64
	roleCalls atomic.Int64
}

func NewMockSubscriptionRepository() *MockSubscriptionRepository {
	return &MockSubscriptionRepository{
		subs:  make(map[string]*models.Subscription),
		roles: make(map[string]string),
	}
}

func (m *MockSubscriptionRepository) SetSubscription(sub *models.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.UserID] = sub
	if _, ok := m.roles[sub.UserID]; !ok {
		m.roles[sub.UserID] = "USER"
	}
}

func (m *MockSubscriptionRepository) SetRole(userID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[userID] = role
}

func (m *MockSubscriptionRepository) GetActiveSubscription(ctx context.Context, userID string, now time.Time) (*models.Subscription, error) {
	m.subCalls.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, exists := m.subs[userID]
	if !exists || sub.Status != models.SubscriptionActive || !now.Before(sub.CurrentPeriodEnd) {
		return nil, repository.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MockSubscriptionRepository) GetUserRole(ctx context.Context, userID string) (string, error) {
	m.roleCalls.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	role, exists := m.roles[userID]
	if !exists {
		return "", repository.ErrUserNotFound
	}
	return role, nil
}

func (m *MockSubscriptionRepository) SubscriptionCalls() int64 {
	return m.subCalls.Load()
}

// MockUsageRepository implements repository.UsageRepository for testing
type MockUsageRepository struct {
	mu       sync.RWMutex
	used     map[string]int64 // cache key -> used
	Err      error
	gets     atomic.Int64
	upserts  atomic.Int64
	consumes atomic.Int64
}

func NewMockUsageRepository() *MockUsageRepository {
	return &MockUsageRepository{
		used: make(map[string]int64),
	}
}

func (m *MockUsageRepository) Seed(key models.UsageKey, used int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[key.CacheKey()] = used
}

func (m *MockUsageRepository) Used(key models.UsageKey) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used[key.CacheKey()]
}

func (m *MockUsageRepository) GetUsage(ctx context.Context, key models.UsageKey) (int64, error) {
	m.gets.Add(1)
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Used(key), nil
}

func (m *MockUsageRepository) UpsertUsage(ctx context.Context, key models.UsageKey, used int64) error {
	m.upserts.Add(1)
	if m.Err != nil {
		return m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if used > m.used[key.CacheKey()] {
		m.used[key.CacheKey()] = used
	}
	return nil
}

func (m *MockUsageRepository) ConsumeUsage(ctx context.Context, key models.UsageKey, amount, limit int64) (int64, bool, error) {
	m.consumes.Add(1)
	if m.Err != nil {
		return 0, false, m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.used[key.CacheKey()]
	if current+amount > limit {
		return current, false, nil
	}
	m.used[key.CacheKey()] = current + amount
	return current + amount, true, nil
}

func (m *MockUsageRepository) Calls() (gets, upserts, consumes int64) {
	return m.gets.Load(), m.upserts.Load(), m.consumes.Load()
}

// FailingCache implements repository.Cache with every call failing with Err (ErrUnavailable by default)
type FailingCache struct {
	Err error
}

func (c FailingCache) err() error {
	if c.Err != nil {
		return c.Err
	}
	return ErrUnavailable
}

func (c FailingCache) Get(ctx context.Context, key string) (string, error) {
	return "", c.err()
}

func (c FailingCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.err()
}

func (c FailingCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return false, c.err()
}

func (c FailingCache) Delete(ctx context.Context, keys ...string) error {
	return c.err()
}

func (c FailingCache) IncrWithinLimit(ctx context.Context, key string, amount, limit int64) (int64, bool, error) {
	return 0, false, c.err()
}

func (c FailingCache) Ping(ctx context.Context) error {
	return c.err()
}

// MockUsageQueue implements queue.UsageQueue by recording published jobs
type MockUsageQueue struct {
	mu   sync.Mutex
	jobs []models.UsageSyncJob
	Err  error
}

func NewMockUsageQueue() *MockUsageQueue {
	return &MockUsageQueue{}
}

func (m *MockUsageQueue) Publish(ctx context.Context, job models.UsageSyncJob) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *MockUsageQueue) Start(handler queue.Handler) error { return nil }

func (m *MockUsageQueue) Stop() {}

func (m *MockUsageQueue) Jobs() []models.UsageSyncJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.UsageSyncJob(nil), m.jobs...)
}
