package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/jackc/pgx/v5"
)

// SubscriptionRepository is a read-only view of the billing tables.
type SubscriptionRepository interface {
	GetActiveSubscription(ctx context.Context, userID string, now time.Time) (*models.Subscription, error)
	GetUserRole(ctx context.Context, userID string) (string, error)
}

type subscriptionRepository struct {
	db *PostgresDB
}

func NewSubscriptionRepository(db *PostgresDB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) GetActiveSubscription(ctx context.Context, userID string, now time.Time) (*models.Subscription, error) {
	query := `
		SELECT s.id, s.user_id, s.plan_id, s.status, s.current_period_start, s.current_period_end,
			pf.feature_key, pf.value
		FROM subscriptions s
		LEFT JOIN plan_features pf ON pf.plan_id = s.plan_id
		WHERE s.user_id = $1 AND s.status = $2 AND s.current_period_end >= $3
		ORDER BY s.current_period_end DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, string(models.SubscriptionActive), now)
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	defer rows.Close()

	var sub *models.Subscription
	for rows.Next() {
		var (
			id, uid, planID, status string
			start, end              time.Time
			featureKey, value       *string
		)
		if err := rows.Scan(&id, &uid, &planID, &status, &start, &end, &featureKey, &value); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}

		if sub == nil {
			sub = &models.Subscription{
				ID:                 id,
				UserID:             uid,
				PlanID:             planID,
				Status:             models.SubscriptionStatus(status),
				CurrentPeriodStart: start,
				CurrentPeriodEnd:   end,
				Features:           make(map[string]string),
			}
		}
		// rows of an older subscription can only appear if the active index was bypassed
		if id != sub.ID {
			continue
		}
		if featureKey != nil && value != nil {
			sub.Features[*featureKey] = *value
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}

	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}

	return sub, nil
}

func (r *subscriptionRepository) GetUserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := r.db.Pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to get user role: %w", err)
	}
	return role, nil
}
