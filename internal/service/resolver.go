package service

import (
	"context"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ResolveRequest данные входящего редиректа
type ResolveRequest struct {
	Slug      string
	Password  string
	ClientIP  string
	UserAgent string
	Referer   string
	UserID    string
}

// PendingClicks отдаёт количество кликов, ещё не сброшенных в БД
type PendingClicks interface {
	Pending(ctx context.Context, urlID string) (int64, error)
}

// Resolver превращает slug в адрес назначения с проверкой правил доступа
type Resolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (string, error)
}

type resolver struct {
	source  ProjectionSource
	pending PendingClicks
	clicks  ClickProcessor
	now     func() time.Time
	logger  *zap.Logger
}

// NewResolver создаёт резолвер; pending может быть nil
func NewResolver(source ProjectionSource, pending PendingClicks, clicks ClickProcessor, logger *zap.Logger) Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &resolver{
		source:  source,
		pending: pending,
		clicks:  clicks,
		now:     time.Now,
		logger:  logger,
	}
}

func (r *resolver) Resolve(ctx context.Context, req ResolveRequest) (string, error) {
	p, err := r.source.Projection(ctx, req.Slug)
	if err != nil {
		return "", err
	}

	if err := r.validate(ctx, p, req.Password); err != nil {
		return "", err
	}

	job := ClickJob{
		Click: models.ClickInput{
			URLID:     p.ID,
			UserID:    req.UserID,
			IPAddress: req.ClientIP,
			UserAgent: req.UserAgent,
			Referer:   req.Referer,
			At:        r.now(),
		},
	}
	if p.OwnerID != nil {
		job.OwnerID = *p.OwnerID
	}
	r.clicks.Submit(job)

	return p.OriginalURL, nil
}

// validate проверяет правила строго по порядку: активность, срок, лимит кликов, пароль
func (r *resolver) validate(ctx context.Context, p *models.URLProjection, password string) error {
	if !p.IsActive {
		return ErrInactive
	}

	if p.ExpiresAt != nil && p.ExpiresAt.Before(r.now()) {
		return ErrExpired
	}

	if p.ClickLimit != nil && p.TotalClicks+r.pendingClicks(ctx, p.ID) >= *p.ClickLimit {
		return ErrLimitExceeded
	}

	if p.PasswordHash != "" {
		if password == "" {
			return ErrPasswordRequired
		}
		if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
			return ErrIncorrectPassword
		}
	}

	return nil
}

// pendingClicks учитывает клики из буфера, чтобы лимит срабатывал до очередного сброса.
// При недоступном Redis считаем, что несброшенных кликов нет.
func (r *resolver) pendingClicks(ctx context.Context, urlID string) int64 {
	if r.pending == nil {
		return 0
	}
	n, err := r.pending.Pending(ctx, urlID)
	if err != nil {
		r.logger.Debug("Не удалось получить буферизованные клики", zap.String("url_id", urlID), zap.Error(err))
		return 0
	}
	return n
}
