package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/handler"
	"github.com/SergeiKhy/shortlink-core/internal/middleware"
	"github.com/SergeiKhy/shortlink-core/internal/queue"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/SergeiKhy/shortlink-core/internal/retry"
	"github.com/SergeiKhy/shortlink-core/internal/service"
	"github.com/SergeiKhy/shortlink-core/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stack собранное приложение поверх реальных PostgreSQL и Redis
type stack struct {
	*testServer
	processor service.ClickProcessor
	flusher   service.ClickFlusher
}

// setupStack собирает все слои так же, как cmd/api
func setupStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := testutil.SetupEnv(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := env.DB.Pool.Exec(ctx, `
		INSERT INTO users (id, email, role) VALUES ($1, 'it@example.com', 'USER');
		INSERT INTO plans (id, name) VALUES ('starter', 'Starter');
		INSERT INTO plan_features (plan_id, feature_key, value)
			VALUES ('starter', 'url_creation', '5'), ('starter', 'click_tracking', 'unlimited');
		INSERT INTO subscriptions (id, user_id, plan_id, status, current_period_start, current_period_end)
			VALUES ('sub-it', $1, 'starter', 'ACTIVE', $2, $3);
	`, testUser, now.Add(-24*time.Hour), now.Add(29*24*time.Hour))
	require.NoError(t, err)

	policy := retry.Policy{MaxAttempts: 2, InitialInterval: 10 * time.Millisecond, MaxInterval: 50 * time.Millisecond}

	urlRepo := repository.NewURLRepository(env.DB)
	clickRepo := repository.NewClickRepository(env.DB)
	cache := repository.NewCacheRepository(env.Redis)
	buffer := repository.NewClickBuffer(env.Redis)

	projections := service.NewCachedProjectionSource(
		service.NewStoreProjectionSource(urlRepo, policy), cache, service.CacheOptions{}, nil)

	usageQueue := queue.NewMemoryQueue(1, 10, policy, nil)
	throttle := service.NewUsageThrottle(
		repository.NewSubscriptionRepository(env.DB),
		repository.NewUsageRepository(env.DB),
		cache, usageQueue, service.ThrottleConfig{Retry: policy}, nil)
	require.NoError(t, usageQueue.Start(throttle.SyncUsage))
	t.Cleanup(usageQueue.Stop)

	processor := service.NewClickProcessor(service.NewClickRecorder(buffer, 0, nil), throttle, service.ProcessorConfig{}, nil)
	processor.Start()
	t.Cleanup(processor.Stop)

	flusher := service.NewClickFlusher(buffer, clickRepo, projections, service.FlusherConfig{Retry: policy}, nil)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: 100, // Высокий лимит для тестов
		BurstSize:         200,
		CleanupInterval:   time.Minute,
	})
	t.Cleanup(rateLimiter.Stop)

	router, err := handler.NewRouter(handler.RouterDeps{
		Resolver:    service.NewResolver(projections, buffer, processor, nil),
		URLs:        service.NewURLService(urlRepo, clickRepo, projections, throttle, nil),
		Throttle:    throttle,
		Health:      handler.NewHealthHandler(env.DB, cache, processor, nil, usageQueue),
		RateLimiter: rateLimiter,
		APIKeys:     map[string]string{testKey: testUser},
		BaseURL:     "http://sho.rt",
	})
	require.NoError(t, err)

	return &stack{
		testServer: &testServer{router: router},
		processor:  processor,
		flusher:    flusher,
	}
}

func (s *stack) visit(slug, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/r/"+slug, nil)
	req.RemoteAddr = ip + ":40000"
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0 Safari/537.36")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// TestIntegration_CreateRedirectAnalytics проверяет полный цикл: создание, редиректы, сброс буфера, аналитика
func TestIntegration_CreateRedirectAnalytics(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	s := setupStack(t)

	w := s.do(http.MethodPost, "/api/v1/urls", gin.H{
		"original_url": "https://example.com/integration",
		"custom_slug":  "itest",
	}, authed())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["id"].(string)

	// Создание ссылки списало одну единицу тарифа
	w = s.do(http.MethodGet, "/api/v1/usage/url_creation", nil, authed())
	require.Equal(t, http.StatusOK, w.Code)
	usage := decode(t, w)
	assert.Equal(t, float64(1), usage["used"])
	assert.Equal(t, float64(5), usage["limit"])

	// Два визита с одного IP и один с другого
	assert.Equal(t, http.StatusFound, s.visit("itest", "198.51.100.1").Code)
	assert.Equal(t, http.StatusFound, s.visit("itest", "198.51.100.1").Code)
	assert.Equal(t, http.StatusFound, s.visit("itest", "198.51.100.2").Code)

	// Остановка процессора дожидается записи всех кликов в буфер
	s.processor.Stop()

	result, err := s.flusher.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.URLs)
	assert.Equal(t, 3, result.Events)

	w = s.do(http.MethodGet, "/api/v1/urls/"+id+"/analytics", nil, authed())
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Equal(t, float64(3), stats["total_clicks"])
	assert.Equal(t, float64(2), stats["unique_clicks"])

	// Повторный сброс ничего не находит
	result, err = s.flusher.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Events)
}

// TestIntegration_RedirectRules проверяет отказы при резолве на реальном хранилище
func TestIntegration_RedirectRules(t *testing.T) {
	if testing.Short() {
		t.Skip("Пропускаем интеграционный тест в коротком режиме")
	}

	s := setupStack(t)

	assert.Equal(t, http.StatusNotFound, s.visit("missing", "198.51.100.1").Code)

	w := s.do(http.MethodPost, "/api/v1/urls", gin.H{
		"original_url": "https://example.com/secret",
		"custom_slug":  "secret",
		"password":     "hunter2",
	}, authed())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["id"].(string)

	w = s.visit("secret", "198.51.100.1")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, true, decode(t, w)["requires_password"])

	w = s.do(http.MethodGet, "/r/secret?password=hunter2", nil, nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/secret", w.Header().Get("Location"))

	// Выключение сразу видно редиректу: сервис сбрасывает кэш проекции
	w = s.do(http.MethodPost, "/api/v1/urls/"+id+"/toggle-status", nil, authed())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/r/secret?password=hunter2", nil, nil).Code)

	w = s.do(http.MethodGet, "/api/v1/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
