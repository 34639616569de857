package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Константы генерации коротких ссылок
const (
	slugLength          = 6
	slugLengthExtended  = 8
	slugExtendAfter     = 5
	maxSlugAttempts     = 10
	slugCharset         = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultPageSize     = 20
	maxPageSize         = 100
	defaultAnalyticsAge = 30 * 24 * time.Hour
)

var (
	urlPattern  = regexp.MustCompile(`(?i)^(https?://[^\s/$.?#].[^\s]*)$`)
	slugPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{4,32}$`)
)

// Чёрный список доменов
var blockedDomains = []string{
	"malware.com",
	"phishing.com",
	"spam.com",
}

// URLService управление ссылками владельца
type URLService interface {
	Create(ctx context.Context, ownerID string, input *models.CreateURLInput) (*models.URL, error)
	Get(ctx context.Context, ownerID, id string) (*models.URL, error)
	List(ctx context.Context, ownerID string, limit int, cursor string) (*models.URLPage, error)
	Update(ctx context.Context, ownerID, id string, input *models.UpdateURLInput) (*models.URL, error)
	ToggleStatus(ctx context.Context, ownerID, id string) (*models.URL, error)
	Delete(ctx context.Context, ownerID, id string) error
	Analytics(ctx context.Context, ownerID, id string, from, to time.Time) (*models.URLAnalytics, error)
}

type urlService struct {
	urls     repository.URLRepository
	clicks   repository.ClickRepository
	source   ProjectionSource
	throttle UsageThrottle
	now      func() time.Time
	logger   *zap.Logger
}

// NewURLService создаёт сервис управления ссылками
func NewURLService(
	urls repository.URLRepository,
	clicks repository.ClickRepository,
	source ProjectionSource,
	throttle UsageThrottle,
	logger *zap.Logger,
) URLService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &urlService{
		urls:     urls,
		clicks:   clicks,
		source:   source,
		throttle: throttle,
		now:      time.Now,
		logger:   logger,
	}
}

// Create создаёт ссылку. Для владельца сначала проверяется тарифный лимит url_creation.
func (s *urlService) Create(ctx context.Context, ownerID string, input *models.CreateURLInput) (*models.URL, error) {
	if err := validateURL(input.OriginalURL); err != nil {
		return nil, err
	}

	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return nil, ErrInvalidExpiry
	}
	if input.ClickLimit != nil && *input.ClickLimit <= 0 {
		return nil, ErrInvalidClickLimit
	}

	if ownerID != "" && s.throttle != nil {
		if err := s.throttle.Require(ctx, ownerID, models.FeatureURLCreation, 1); err != nil {
			return nil, err
		}
	}

	u := &models.URL{
		ID:          uuid.NewString(),
		OriginalURL: input.OriginalURL,
		Title:       input.Title,
		Description: input.Description,
		IsActive:    true,
		ExpiresAt:   input.ExpiresAt,
		ClickLimit:  input.ClickLimit,
	}
	if ownerID != "" {
		owner := ownerID
		u.OwnerID = &owner
	}

	if input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		u.PasswordHash = string(hash)
	}

	if input.CustomSlug != "" {
		if !slugPattern.MatchString(input.CustomSlug) {
			return nil, ErrInvalidSlug
		}
		u.Slug = input.CustomSlug
		if err := s.urls.Create(ctx, u); err != nil {
			if errors.Is(err, repository.ErrSlugExists) {
				return nil, ErrSlugTaken
			}
			return nil, err
		}
	} else if err := s.createWithGeneratedSlug(ctx, u); err != nil {
		return nil, err
	}

	if u.OwnerID != nil && s.throttle != nil {
		if _, err := s.throttle.Consume(ctx, ownerID, models.FeatureURLCreation, 1); err != nil {
			s.logger.Warn("Не удалось списать url_creation",
				zap.String("user_id", ownerID),
				zap.String("url_id", u.ID),
				zap.Error(err),
			)
		}
	}

	return u, nil
}

// createWithGeneratedSlug подбирает свободный код; после нескольких коллизий код удлиняется
func (s *urlService) createWithGeneratedSlug(ctx context.Context, u *models.URL) error {
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		length := slugLength
		if attempt >= slugExtendAfter {
			length = slugLengthExtended
		}

		slug, err := generateSlug(length)
		if err != nil {
			return fmt.Errorf("failed to generate slug: %w", err)
		}
		u.Slug = slug

		err = s.urls.Create(ctx, u)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrSlugExists) {
			return err
		}
		s.logger.Debug("Коллизия кода, пробуем ещё раз", zap.String("slug", slug), zap.Int("attempt", attempt+1))
	}
	return ErrSlugGeneration
}

// Get возвращает ссылку владельца
func (s *urlService) Get(ctx context.Context, ownerID, id string) (*models.URL, error) {
	u, err := s.urls.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrURLNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !ownedBy(u, ownerID) {
		return nil, ErrUnauthorized
	}
	return u, nil
}

// List постраничный список ссылок владельца; курсор это id последней ссылки страницы
func (s *urlService) List(ctx context.Context, ownerID string, limit int, cursor string) (*models.URLPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	items, err := s.urls.ListByOwner(ctx, ownerID, limit+1, cursor)
	if err != nil {
		return nil, err
	}

	page := &models.URLPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = page.Items[limit-1].ID
	}
	if page.Items == nil {
		page.Items = []*models.URL{}
	}
	return page, nil
}

// Update частично обновляет ссылку и сбрасывает кэш проекции
func (s *urlService) Update(ctx context.Context, ownerID, id string, input *models.UpdateURLInput) (*models.URL, error) {
	u, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if input.OriginalURL != nil {
		if err := validateURL(*input.OriginalURL); err != nil {
			return nil, err
		}
		u.OriginalURL = *input.OriginalURL
	}
	if input.Title != nil {
		u.Title = *input.Title
	}
	if input.Description != nil {
		u.Description = *input.Description
	}
	switch {
	case input.ClearExpiresAt:
		u.ExpiresAt = nil
	case input.ExpiresAt != nil:
		if !input.ExpiresAt.After(s.now()) {
			return nil, ErrInvalidExpiry
		}
		u.ExpiresAt = input.ExpiresAt
	}
	switch {
	case input.ClearClickLimit:
		u.ClickLimit = nil
	case input.ClickLimit != nil:
		if *input.ClickLimit <= 0 {
			return nil, ErrInvalidClickLimit
		}
		u.ClickLimit = input.ClickLimit
	}
	if input.Password != nil {
		// пустой пароль снимает защиту
		u.PasswordHash = ""
		if *input.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("failed to hash password: %w", err)
			}
			u.PasswordHash = string(hash)
		}
	}

	return s.save(ctx, u)
}

// ToggleStatus включает или выключает ссылку
func (s *urlService) ToggleStatus(ctx context.Context, ownerID, id string) (*models.URL, error) {
	u, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	u.IsActive = !u.IsActive
	return s.save(ctx, u)
}

func (s *urlService) save(ctx context.Context, u *models.URL) (*models.URL, error) {
	if err := s.urls.Update(ctx, u); err != nil {
		if errors.Is(err, repository.ErrURLNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.invalidate(ctx, u.Slug)
	return u, nil
}

// Delete удаляет ссылку; накопленные в буфере клики будут отброшены при сбросе
func (s *urlService) Delete(ctx context.Context, ownerID, id string) error {
	u, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if err := s.urls.Delete(ctx, u.ID); err != nil {
		if errors.Is(err, repository.ErrURLNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.invalidate(ctx, u.Slug)
	return nil
}

// Analytics статистика переходов за период [from, to]; по умолчанию последние 30 дней
func (s *urlService) Analytics(ctx context.Context, ownerID, id string, from, to time.Time) (*models.URLAnalytics, error) {
	u, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.Add(-defaultAnalyticsAge)
	}
	if from.After(to) {
		from, to = to, from
	}

	// конец периода включается целиком: до начала следующего дня
	end := to.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	start := from.UTC().Truncate(24 * time.Hour)

	return s.clicks.GetAnalytics(ctx, u.ID, start, end)
}

func (s *urlService) invalidate(ctx context.Context, slug string) {
	if s.source == nil {
		return
	}
	if err := s.source.Invalidate(ctx, slug); err != nil {
		s.logger.Warn("Не удалось сбросить кэш ссылки", zap.String("slug", slug), zap.Error(err))
	}
}

func ownedBy(u *models.URL, ownerID string) bool {
	return u.OwnerID != nil && *u.OwnerID == ownerID
}

// generateSlug генерирует случайный код заданной длины
func generateSlug(length int) (string, error) {
	result := make([]byte, length)
	base := big.NewInt(int64(len(slugCharset)))
	for i := range result {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		result[i] = slugCharset[n.Int64()]
	}
	return string(result), nil
}

// validateURL проверяет формат URL и чёрный список доменов
func validateURL(raw string) error {
	if !urlPattern.MatchString(raw) {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		return ErrInvalidURL
	}

	host := strings.ToLower(parsed.Hostname())
	for _, domain := range blockedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return ErrBlockedDomain
		}
	}
	return nil
}
