package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/config"
	"github.com/SergeiKhy/shortlink-core/internal/handler"
	"github.com/SergeiKhy/shortlink-core/internal/middleware"
	"github.com/SergeiKhy/shortlink-core/internal/migrations"
	"github.com/SergeiKhy/shortlink-core/internal/queue"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/SergeiKhy/shortlink-core/internal/retry"
	"github.com/SergeiKhy/shortlink-core/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger := newLogger(cfg.App.Env)
	defer logger.Sync()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Подключение к БД (postgres)
	db, err := repository.NewPostgresDB(cfg.DB)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	if cfg.DB.AutoMigrate {
		if err := migrations.Run(cfg.DB.DSN(), logger); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	// Подключение к Redis
	redis, err := repository.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	policy := retry.FromConfig(cfg.Retry)

	// Инициализация репозиториев
	urlRepo := repository.NewURLRepository(db)
	clickRepo := repository.NewClickRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	usageRepo := repository.NewUsageRepository(db)
	cacheRepo := repository.NewCacheRepository(redis)
	clickBuffer := repository.NewClickBuffer(redis)

	var local *repository.LocalCache
	if cfg.Cache.LocalEnabled {
		local, err = repository.NewLocalCache(cfg.Cache)
		if err != nil {
			logger.Fatal("Failed to create local cache", zap.Error(err))
		}
		defer local.Close()
		logger.Info("Local projection cache enabled", zap.Duration("ttl", cfg.Cache.LocalTTL))
	}

	projections := service.NewCachedProjectionSource(
		service.NewStoreProjectionSource(urlRepo, policy),
		cacheRepo,
		service.CacheOptions{
			TTL:       cfg.Cache.ProjectionTTL,
			OpTimeout: cfg.Cache.OperationTimeout,
			Local:     local,
		},
		logger,
	)

	// Очередь синхронизации использования тарифа
	usageQueue, queueStats := newUsageQueue(cfg, policy, logger)

	throttle := service.NewUsageThrottle(subRepo, usageRepo, cacheRepo, usageQueue, service.ThrottleConfig{
		CounterTTL:         cfg.Usage.CounterTTL,
		SubscriptionMinTTL: cfg.Usage.SubscriptionMinTTL,
		SubscriptionMaxTTL: cfg.Usage.SubscriptionMaxTTL,
		RoleTTL:            cfg.Usage.RoleTTL,
		OpTimeout:          cfg.Cache.OperationTimeout,
		Retry:              policy,
	}, logger)

	if err := usageQueue.Start(throttle.SyncUsage); err != nil {
		logger.Fatal("Failed to start usage queue", zap.Error(err))
	}

	// Инициализация процессора кликов (Worker Pool)
	recorder := service.NewClickRecorder(clickBuffer, cfg.Clicks.UniqueWindow, logger)
	clickProcessor := service.NewClickProcessor(recorder, throttle, service.ProcessorConfig{
		Workers:    cfg.Clicks.Workers,
		BufferSize: cfg.Clicks.BufferSize,
		BatchSize:  cfg.Clicks.BatchSize,
	}, logger)
	clickProcessor.Start()

	resolver := service.NewResolver(projections, clickBuffer, clickProcessor, logger)

	flusher := service.NewClickFlusher(clickBuffer, clickRepo, projections, service.FlusherConfig{
		Interval:    cfg.Clicks.FlushInterval,
		Parallelism: cfg.Clicks.FlushParallelism,
		Retry:       policy,
	}, logger)
	flusher.Start()

	urlService := service.NewURLService(urlRepo, clickRepo, projections, throttle, logger)

	// Инициализация middleware
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		CleanupInterval:   time.Minute,
	})
	defer rateLimiter.Stop()

	if len(cfg.Auth.APIKeys) == 0 {
		logger.Warn("No API keys configured, management endpoints will reject every request")
	} else {
		logger.Info("API key authentication enabled", zap.Int("keys_count", len(cfg.Auth.APIKeys)))
	}

	// Настройка роутера
	router, err := handler.NewRouter(handler.RouterDeps{
		Resolver:       resolver,
		URLs:           urlService,
		Throttle:       throttle,
		Health:         handler.NewHealthHandler(db, cacheRepo, clickProcessor, local, queueStats),
		RateLimiter:    rateLimiter,
		APIKeys:        cfg.Auth.APIKeys,
		TrustedProxies: cfg.App.TrustedProxies,
		BaseURL:        cfg.App.BaseURL,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Failed to build router", zap.Error(err))
	}

	// Запуск сервера
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск в горутине
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Сначала дописываем клики в буфер, затем сбрасываем буфер в БД
	clickProcessor.Stop()
	flusher.Stop()
	usageQueue.Stop()

	logger.Info("Server exited")
}

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

// newUsageQueue возвращает очередь и, если драйвер умеет, источник статистики для /health
func newUsageQueue(cfg *config.Config, policy retry.Policy, logger *zap.Logger) (queue.UsageQueue, handler.QueueStats) {
	if cfg.Usage.QueueDriver == "nats" {
		q, err := queue.NewNATSQueue(cfg.NATS, logger)
		if err != nil {
			logger.Fatal("Failed to connect usage queue", zap.Error(err))
		}
		logger.Info("Usage queue: NATS JetStream", zap.String("stream", cfg.NATS.Stream))
		return q, nil
	}

	q := queue.NewMemoryQueue(cfg.Usage.Workers, cfg.Usage.BufferSize, policy, logger)
	logger.Info("Usage queue: in-memory", zap.Int("workers", cfg.Usage.Workers))
	return q, q
}
