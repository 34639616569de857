package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/jackc/pgx/v5"
)

type UsageRepository interface {
	// GetUsage returns 0 when no counter row exists yet.
	GetUsage(ctx context.Context, key models.UsageKey) (int64, error)
	// UpsertUsage never lowers a stored counter, so out-of-order sync jobs are harmless.
	UpsertUsage(ctx context.Context, key models.UsageKey, used int64) error
	// ConsumeUsage adds amount only while the result stays within limit.
	ConsumeUsage(ctx context.Context, key models.UsageKey, amount, limit int64) (int64, bool, error)
}

type usageRepository struct {
	db *PostgresDB
}

func NewUsageRepository(db *PostgresDB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) GetUsage(ctx context.Context, key models.UsageKey) (int64, error) {
	query := `
		SELECT used FROM feature_usage
		WHERE user_id = $1 AND subscription_id = $2 AND feature_key = $3
			AND period_start = $4 AND period_end = $5
	`

	var used int64
	err := r.db.Pool.QueryRow(ctx, query,
		key.UserID, key.SubscriptionID, key.FeatureKey, key.PeriodStart, key.PeriodEnd,
	).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get feature usage: %w", err)
	}

	return used, nil
}

func (r *usageRepository) UpsertUsage(ctx context.Context, key models.UsageKey, used int64) error {
	query := `
		INSERT INTO feature_usage (user_id, subscription_id, feature_key, period_start, period_end, used, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, subscription_id, feature_key, period_start, period_end) DO UPDATE
		SET used = GREATEST(feature_usage.used, EXCLUDED.used), updated_at = NOW()
	`

	_, err := r.db.Pool.Exec(ctx, query,
		key.UserID, key.SubscriptionID, key.FeatureKey, key.PeriodStart, key.PeriodEnd, used,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert feature usage: %w", err)
	}

	return nil
}

func (r *usageRepository) ConsumeUsage(ctx context.Context, key models.UsageKey, amount, limit int64) (int64, bool, error) {
	query := `
		INSERT INTO feature_usage (user_id, subscription_id, feature_key, period_start, period_end, used, updated_at)
		SELECT $1, $2, $3, $4, $5, $6::bigint, NOW()
		WHERE $6::bigint <= $7::bigint
		ON CONFLICT (user_id, subscription_id, feature_key, period_start, period_end) DO UPDATE
		SET used = feature_usage.used + EXCLUDED.used, updated_at = NOW()
		WHERE feature_usage.used + EXCLUDED.used <= $7::bigint
		RETURNING used
	`

	var used int64
	err := r.db.Pool.QueryRow(ctx, query,
		key.UserID, key.SubscriptionID, key.FeatureKey, key.PeriodStart, key.PeriodEnd, amount, limit,
	).Scan(&used)
	if err == nil {
		return used, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to consume feature usage: %w", err)
	}

	current, err := r.GetUsage(ctx, key)
	if err != nil {
		return 0, false, err
	}
	return current, false, nil
}
