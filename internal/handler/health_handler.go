package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/queue"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/SergeiKhy/shortlink-core/internal/service"
	"github.com/gin-gonic/gin"
)

const readyTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStats is implemented by queue drivers that can report their backlog.
type QueueStats interface {
	Stats() queue.Stats
}

type HealthHandler struct {
	db        Pinger
	cache     Pinger
	processor service.ClickProcessor
	local     *repository.LocalCache
	queue     QueueStats
}

// NewHealthHandler accepts nil for any dependency it should not report on.
func NewHealthHandler(db, cache Pinger, processor service.ClickProcessor, local *repository.LocalCache, q QueueStats) *HealthHandler {
	return &HealthHandler{
		db:        db,
		cache:     cache,
		processor: processor,
		local:     local,
		queue:     q,
	}
}

// Health is the liveness probe; it also exposes pipeline backlog.
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"service": "shortlink-core",
	}
	if h.processor != nil {
		resp["click_processor"] = h.processor.Stats()
	}
	if h.local != nil {
		resp["local_cache"] = h.local.Stats()
	}
	if h.queue != nil {
		resp["usage_queue"] = h.queue.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// Ready pings Postgres and Redis and answers 503 if either is down.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, p := range map[string]Pinger{"postgres": h.db, "redis": h.cache} {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}
