package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/SergeiKhy/shortlink-core/internal/queue"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"github.com/SergeiKhy/shortlink-core/internal/retry"
	"go.uber.org/zap"
)

// Значения по умолчанию для кэша тарифов
const (
	defaultCounterTTL         = 60 * time.Second
	defaultSubscriptionMinTTL = 60 * time.Second
	defaultSubscriptionMaxTTL = time.Hour
	defaultRoleTTL            = 5 * time.Minute
	unlimitedValue            = "unlimited"
)

// UsageThrottle учитывает потребление тарифных функций пользователя
type UsageThrottle interface {
	CheckLimit(ctx context.Context, userID, feature string, amount int64) (*models.UsageCheck, error)
	Consume(ctx context.Context, userID, feature string, amount int64) (bool, error)
	Require(ctx context.Context, userID, feature string, amount int64) error
	InvalidateSubscription(ctx context.Context, userID string) error
	SyncUsage(ctx context.Context, job models.UsageSyncJob) error
}

// ThrottleConfig TTL кэшей тарифного учёта
type ThrottleConfig struct {
	CounterTTL         time.Duration
	SubscriptionMinTTL time.Duration
	SubscriptionMaxTTL time.Duration
	RoleTTL            time.Duration
	OpTimeout          time.Duration
	Retry              retry.Policy
}

type usageThrottle struct {
	subs   repository.SubscriptionRepository
	usage  repository.UsageRepository
	cache  repository.Cache
	jobs   queue.UsageQueue
	cfg    ThrottleConfig
	now    func() time.Time
	logger *zap.Logger
}

// NewUsageThrottle создаёт сервис тарифных ограничений
func NewUsageThrottle(
	subs repository.SubscriptionRepository,
	usage repository.UsageRepository,
	cache repository.Cache,
	jobs queue.UsageQueue,
	cfg ThrottleConfig,
	logger *zap.Logger,
) UsageThrottle {
	if cfg.CounterTTL <= 0 {
		cfg.CounterTTL = defaultCounterTTL
	}
	if cfg.SubscriptionMinTTL <= 0 {
		cfg.SubscriptionMinTTL = defaultSubscriptionMinTTL
	}
	if cfg.SubscriptionMaxTTL < cfg.SubscriptionMinTTL {
		cfg.SubscriptionMaxTTL = defaultSubscriptionMaxTTL
	}
	if cfg.RoleTTL <= 0 {
		cfg.RoleTTL = defaultRoleTTL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultCacheTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &usageThrottle{
		subs:   subs,
		usage:  usage,
		cache:  cache,
		jobs:   jobs,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// planLimit лимит функции в рамках подписки
type planLimit struct {
	sub       *models.Subscription
	limit     int64
	unlimited bool
}

func (l planLimit) key(userID, feature string) models.UsageKey {
	return models.UsageKey{
		UserID:         userID,
		SubscriptionID: l.sub.ID,
		FeatureKey:     feature,
		PeriodStart:    l.sub.CurrentPeriodStart,
		PeriodEnd:      l.sub.CurrentPeriodEnd,
	}
}

// CheckLimit проверяет, хватит ли лимита на amount единиц, ничего не списывая
func (t *usageThrottle) CheckLimit(ctx context.Context, userID, feature string, amount int64) (*models.UsageCheck, error) {
	if amount < 1 {
		amount = 1
	}

	if t.isAdmin(ctx, userID) {
		return &models.UsageCheck{Feature: feature, Allowed: true, Unlimited: true}, nil
	}

	pl, err := t.resolveLimit(ctx, userID, feature)
	if err != nil {
		return nil, err
	}

	used, err := t.currentUsage(ctx, pl.key(userID, feature))
	if err != nil {
		return nil, err
	}

	check := &models.UsageCheck{
		Feature:   feature,
		Used:      used,
		Limit:     pl.limit,
		Unlimited: pl.unlimited,
		Allowed:   pl.unlimited || used+amount <= pl.limit,
	}
	if pl.unlimited {
		check.Limit = 0
	}
	return check, nil
}

// Require предусловие для изменяющих операций: отказ превращается в ErrUsageLimitExceeded
func (t *usageThrottle) Require(ctx context.Context, userID, feature string, amount int64) error {
	check, err := t.CheckLimit(ctx, userID, feature, amount)
	if err != nil {
		return err
	}
	if !check.Allowed {
		return fmt.Errorf("%w: %s used %d of %d", ErrUsageLimitExceeded, feature, check.Used, check.Limit)
	}
	return nil
}

// Consume атомарно списывает amount единиц в Redis и ставит задачу на запись в БД.
// Если Redis недоступен, списание выполняется условным upsert в PostgreSQL.
func (t *usageThrottle) Consume(ctx context.Context, userID, feature string, amount int64) (bool, error) {
	if amount < 1 {
		amount = 1
	}

	if t.isAdmin(ctx, userID) {
		return true, nil
	}

	pl, err := t.resolveLimit(ctx, userID, feature)
	if err != nil {
		return false, err
	}

	limit := pl.limit
	if pl.unlimited {
		limit = math.MaxInt64
	}
	key := pl.key(userID, feature)

	used, allowed, err := t.incrCached(ctx, key, amount, limit)
	if err != nil && ambiguousCacheError(err) {
		// Скрипт мог успеть выполнить INCRBY: повторное списание в БД посчитало бы единицу дважды
		t.logger.Warn("Результат списания в кэше неизвестен",
			zap.String("user_id", userID),
			zap.String("feature", feature),
			zap.Error(err),
		)
		return false, fmt.Errorf("failed to consume %s: outcome unknown: %w", feature, err)
	}
	if err != nil {
		t.logger.Warn("Кэш счётчика недоступен, списываем напрямую в БД",
			zap.String("user_id", userID),
			zap.String("feature", feature),
			zap.Error(err),
		)
		_, allowed, err = t.usage.ConsumeUsage(ctx, key, amount, limit)
		if err != nil {
			return false, fmt.Errorf("failed to consume %s: %w", feature, err)
		}
		return allowed, nil
	}

	if allowed {
		t.enqueueSync(ctx, key, used)
	}
	return allowed, nil
}

// incrCached инкрементирует счётчик в кэше, подгружая его из БД при промахе
func (t *usageThrottle) incrCached(ctx context.Context, key models.UsageKey, amount, limit int64) (int64, bool, error) {
	cacheKey := key.CacheKey()

	for attempt := 0; attempt < 2; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
		used, allowed, err := t.cache.IncrWithinLimit(cctx, cacheKey, amount, limit)
		cancel()
		if err == nil {
			return used, allowed, nil
		}
		if !errors.Is(err, repository.ErrCacheMiss) {
			return 0, false, err
		}
		if err := t.seedCounter(ctx, key); err != nil {
			return 0, false, err
		}
	}

	return 0, false, fmt.Errorf("usage counter %s expired while seeding", cacheKey)
}

// ambiguousCacheError сообщает, что команда могла выполниться на сервере, хотя ответ не получен
func ambiguousCacheError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (t *usageThrottle) seedCounter(ctx context.Context, key models.UsageKey) error {
	used, err := retry.Value(ctx, t.cfg.Retry, func() (int64, error) {
		return t.usage.GetUsage(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("failed to load usage: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()

	// SET NX: если другой запрос уже засеял счётчик, его значение свежее
	_, err = t.cache.SetNX(cctx, key.CacheKey(), strconv.FormatInt(used, 10), t.cfg.CounterTTL)
	return err
}

func (t *usageThrottle) enqueueSync(ctx context.Context, key models.UsageKey, used int64) {
	job := models.UsageSyncJob{
		UserID:         key.UserID,
		SubscriptionID: key.SubscriptionID,
		FeatureKey:     key.FeatureKey,
		PeriodStart:    key.PeriodStart,
		PeriodEnd:      key.PeriodEnd,
		Used:           used,
	}

	if t.jobs != nil {
		err := t.jobs.Publish(ctx, job)
		if err == nil {
			return
		}
		t.logger.Warn("Очередь синхронизации недоступна, пишем счётчик синхронно",
			zap.String("user_id", key.UserID),
			zap.String("feature", key.FeatureKey),
			zap.Error(err),
		)
	}

	if err := t.SyncUsage(ctx, job); err != nil {
		t.logger.Error("Не удалось сохранить счётчик использования",
			zap.String("user_id", key.UserID),
			zap.String("feature", key.FeatureKey),
			zap.Int64("used", used),
			zap.Error(err),
		)
	}
}

// SyncUsage обработчик задачи синхронизации: upsert по составному ключу
func (t *usageThrottle) SyncUsage(ctx context.Context, job models.UsageSyncJob) error {
	return t.usage.UpsertUsage(ctx, job.Key(), job.Used)
}

// currentUsage читает счётчик из кэша, при промахе из БД с кэшированием на CounterTTL
func (t *usageThrottle) currentUsage(ctx context.Context, key models.UsageKey) (int64, error) {
	cacheKey := key.CacheKey()

	cctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	raw, err := t.cache.Get(cctx, cacheKey)
	cancel()
	if err == nil {
		if used, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			return used, nil
		}
	} else if !errors.Is(err, repository.ErrCacheMiss) {
		t.logger.Warn("Кэш счётчика недоступен", zap.String("key", cacheKey), zap.Error(err))
	}

	used, err := retry.Value(ctx, t.cfg.Retry, func() (int64, error) {
		return t.usage.GetUsage(ctx, key)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load usage: %w", err)
	}

	cctx, cancel = context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()
	if _, err := t.cache.SetNX(cctx, cacheKey, strconv.FormatInt(used, 10), t.cfg.CounterTTL); err != nil {
		t.logger.Debug("Не удалось закэшировать счётчик", zap.String("key", cacheKey), zap.Error(err))
	}

	return used, nil
}

// resolveLimit находит активную подписку и числовой лимит функции в плане
func (t *usageThrottle) resolveLimit(ctx context.Context, userID, feature string) (planLimit, error) {
	sub, err := t.activeSubscription(ctx, userID)
	if err != nil {
		return planLimit{}, err
	}

	raw, ok := sub.Features[feature]
	if !ok {
		return planLimit{}, fmt.Errorf("%w: %s", ErrFeatureNotInPlan, feature)
	}

	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, unlimitedValue) {
		return planLimit{sub: sub, unlimited: true}, nil
	}

	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return planLimit{}, fmt.Errorf("%w: %s has non-numeric limit %q", ErrFeatureNotInPlan, feature, raw)
	}
	if limit < 0 {
		return planLimit{sub: sub, unlimited: true}, nil
	}

	return planLimit{sub: sub, limit: limit}, nil
}

func subscriptionKey(userID string) string {
	return "active_subscription:" + userID
}

// activeSubscription читает подписку из кэша; TTL кэша равен остатку периода в пределах [min, max]
func (t *usageThrottle) activeSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	key := subscriptionKey(userID)
	now := t.now()

	cctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	raw, err := t.cache.Get(cctx, key)
	cancel()
	if err == nil {
		var sub models.Subscription
		if jerr := json.Unmarshal([]byte(raw), &sub); jerr == nil && !sub.CurrentPeriodEnd.Before(now) {
			return &sub, nil
		}
	} else if !errors.Is(err, repository.ErrCacheMiss) {
		t.logger.Warn("Кэш подписок недоступен", zap.String("user_id", userID), zap.Error(err))
	}

	sub, err := retry.Value(ctx, t.cfg.Retry, func() (*models.Subscription, error) {
		sub, err := t.subs.GetActiveSubscription(ctx, userID, now)
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return nil, retry.Permanent(ErrNoActiveSubscription)
		}
		return sub, err
	})
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(sub); err == nil {
		cctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
		defer cancel()
		if err := t.cache.Set(cctx, key, string(data), t.subscriptionTTL(sub, now)); err != nil {
			t.logger.Debug("Не удалось закэшировать подписку", zap.String("user_id", userID), zap.Error(err))
		}
	}

	return sub, nil
}

func (t *usageThrottle) subscriptionTTL(sub *models.Subscription, now time.Time) time.Duration {
	ttl := sub.CurrentPeriodEnd.Sub(now)
	if ttl < t.cfg.SubscriptionMinTTL {
		return t.cfg.SubscriptionMinTTL
	}
	if ttl > t.cfg.SubscriptionMaxTTL {
		return t.cfg.SubscriptionMaxTTL
	}
	return ttl
}

func (t *usageThrottle) InvalidateSubscription(ctx context.Context, userID string) error {
	return t.cache.Delete(ctx, subscriptionKey(userID))
}

func roleKey(userID string) string {
	return "user_role:" + userID
}

// isAdmin проверяет роль пользователя; при ошибке считаем пользователя обычным
func (t *usageThrottle) isAdmin(ctx context.Context, userID string) bool {
	key := roleKey(userID)

	cctx, cancel := context.WithTimeout(ctx, t.cfg.OpTimeout)
	role, err := t.cache.Get(cctx, key)
	cancel()
	if err == nil {
		return role == models.RoleAdmin
	}

	role, err = t.subs.GetUserRole(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			t.logger.Warn("Не удалось получить роль пользователя", zap.String("user_id", userID), zap.Error(err))
		}
		return false
	}

	cctx, cancel = context.WithTimeout(ctx, t.cfg.OpTimeout)
	defer cancel()
	if err := t.cache.Set(cctx, key, role, t.cfg.RoleTTL); err != nil {
		t.logger.Debug("Не удалось закэшировать роль", zap.String("user_id", userID), zap.Error(err))
	}

	return role == models.RoleAdmin
}
