package handler

import (
	"fmt"

	"github.com/SergeiKhy/shortlink-core/internal/middleware"
	"github.com/SergeiKhy/shortlink-core/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Resolver    service.Resolver
	URLs        service.URLService
	Throttle    service.UsageThrottle
	Health      *HealthHandler
	RateLimiter *middleware.RateLimiter
	APIKeys     map[string]string
	// TrustedProxies may set X-Forwarded-For; requests from other peers are identified by the socket address
	TrustedProxies []string
	BaseURL        string
	Logger         *zap.Logger
}

func NewRouter(deps RouterDeps) (*gin.Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	// IP клиента влияет на уникальные клики и лимиты, поэтому заголовкам верим только от известных прокси
	if err := router.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(gin.Recovery())

	// Middleware для логгирования
	router.Use(func(c *gin.Context) {
		logger.Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
		)
		c.Next()
	})

	redirectHandler := NewRedirectHandler(deps.Resolver, logger)
	urlHandler := NewURLHandler(deps.URLs, deps.BaseURL, logger)
	usageHandler := NewUsageHandler(deps.Throttle, logger)

	// Редирект: ключ необязателен, лимит по IP или по пользователю
	r := router.Group("/r")
	r.Use(middleware.OptionalAPIKey(deps.APIKeys))
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.MiddlewareWithKey(middleware.UserOrIP))
	}
	r.GET("/:slug", redirectHandler.Redirect)
	r.POST("/:slug", redirectHandler.Redirect)

	// API v.1
	v1 := router.Group("/api/v1")
	if deps.Health != nil {
		v1.GET("/health", deps.Health.Health)
		v1.GET("/ready", deps.Health.Ready)
	}

	api := v1.Group("")
	api.Use(middleware.RequireAPIKey(deps.APIKeys))
	if deps.RateLimiter != nil {
		api.Use(deps.RateLimiter.MiddlewareWithKey(middleware.UserOrIP))
	}
	{
		api.POST("/urls", urlHandler.Create)
		api.GET("/urls", urlHandler.List)
		api.GET("/urls/:id", urlHandler.Get)
		api.PATCH("/urls/:id", urlHandler.Update)
		api.DELETE("/urls/:id", urlHandler.Delete)
		api.POST("/urls/:id/toggle-status", urlHandler.ToggleStatus)
		api.GET("/urls/:id/analytics", urlHandler.Analytics)

		api.GET("/usage/:feature", usageHandler.Check)
	}

	return router, nil
}
