package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/jackc/pgx/v5"
)

const topGroupLimit = 10

type ClickRepository interface {
	// ApplyBatch persists one drained click buffer atomically and returns the URL slug.
	ApplyBatch(ctx context.Context, batch *models.ClickBatch) (string, error)
	// GetAnalytics aggregates the half-open range [from, to).
	GetAnalytics(ctx context.Context, urlID string, from, to time.Time) (*models.URLAnalytics, error)
}

type clickRepository struct {
	db *PostgresDB
}

func NewClickRepository(db *PostgresDB) ClickRepository {
	return &clickRepository{db: db}
}

var clickColumns = []string{
	"url_id", "user_id", "ip_address", "user_agent", "referer",
	"country", "city", "device", "browser", "os", "clicked_at",
}

func (r *clickRepository) ApplyBatch(ctx context.Context, batch *models.ClickBatch) (string, error) {
	if len(batch.Events) == 0 && batch.UniqueClicks == 0 {
		return "", nil
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var slug string
	err = tx.QueryRow(ctx, `
		UPDATE urls
		SET total_clicks = total_clicks + $2, unique_clicks = unique_clicks + $3
		WHERE id = $1
		RETURNING slug
	`, batch.URLID, len(batch.Events), batch.UniqueClicks).Scan(&slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrURLNotFound
		}
		return "", fmt.Errorf("failed to increment total clicks: %w", err)
	}

	if len(batch.Events) > 0 {
		events := batch.Events
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"clicks"},
			clickColumns,
			pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
				e := events[i]
				return []any{
					batch.URLID,
					nullString(e.UserID),
					nullString(e.IPAddress),
					e.UserAgent,
					e.Referer,
					orUnknown(e.Country),
					orUnknown(e.City),
					orUnknown(e.Device),
					orUnknown(e.Browser),
					orUnknown(e.OS),
					e.ClickedAt,
				}, nil
			}),
		)
		if err != nil {
			return "", fmt.Errorf("failed to bulk insert clicks: %w", err)
		}
	}

	for _, rollup := range dailyRollups(batch) {
		_, err = tx.Exec(ctx, `
			INSERT INTO analytics_daily (url_id, date, click_count, unique_clicks)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (url_id, date) DO UPDATE
			SET click_count = analytics_daily.click_count + EXCLUDED.click_count,
				unique_clicks = analytics_daily.unique_clicks + EXCLUDED.unique_clicks
		`, rollup.URLID, rollup.Date, rollup.ClickCount, rollup.UniqueClicks)
		if err != nil {
			return "", fmt.Errorf("failed to upsert daily rollup: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit click batch: %w", err)
	}

	return slug, nil
}

// dailyRollups groups events by UTC day. Unique clicks are attributed to the day of the most recent event.
func dailyRollups(batch *models.ClickBatch) []models.DailyRollup {
	byDay := make(map[time.Time]*models.DailyRollup)
	var latest time.Time

	for _, e := range batch.Events {
		at := e.ClickedAt.UTC()
		day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		if day.After(latest) {
			latest = day
		}
		rollup, ok := byDay[day]
		if !ok {
			rollup = &models.DailyRollup{URLID: batch.URLID, Date: day}
			byDay[day] = rollup
		}
		rollup.ClickCount++
	}

	if batch.UniqueClicks > 0 {
		if latest.IsZero() {
			now := time.Now().UTC()
			latest = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
			byDay[latest] = &models.DailyRollup{URLID: batch.URLID, Date: latest}
		}
		byDay[latest].UniqueClicks += batch.UniqueClicks
	}

	rollups := make([]models.DailyRollup, 0, len(byDay))
	for _, rollup := range byDay {
		rollups = append(rollups, *rollup)
	}
	sort.Slice(rollups, func(i, j int) bool {
		return rollups[i].Date.Before(rollups[j].Date)
	})
	return rollups
}

func orUnknown(s string) string {
	if s == "" {
		return models.UnknownValue
	}
	return s
}

// groupColumns whitelists the dimensions analytics can be grouped by.
var groupColumns = map[string]string{
	"country": "country",
	"device":  "device",
	"browser": "browser",
	"referer": "COALESCE(NULLIF(referer, ''), 'Direct')",
}

func (r *clickRepository) GetAnalytics(ctx context.Context, urlID string, from, to time.Time) (*models.URLAnalytics, error) {
	analytics := &models.URLAnalytics{
		URLID:        urlID,
		ClicksByDate: []models.DateCount{},
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT date, click_count, unique_clicks
		FROM analytics_daily
		WHERE url_id = $1 AND date >= $2::date AND date < $3::date
		ORDER BY date ASC
	`, urlID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily analytics: %w", err)
	}

	for rows.Next() {
		var (
			day time.Time
			dc  models.DateCount
		)
		if err := rows.Scan(&day, &dc.Clicks, &dc.UniqueClicks); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan daily analytics: %w", err)
		}
		dc.Date = day.Format("2006-01-02")
		analytics.TotalClicks += dc.Clicks
		analytics.UniqueClicks += dc.UniqueClicks
		analytics.ClicksByDate = append(analytics.ClicksByDate, dc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily analytics: %w", err)
	}

	targets := map[string]*[]models.GroupCount{
		"country": &analytics.TopCountries,
		"device":  &analytics.TopDevices,
		"browser": &analytics.TopBrowsers,
		"referer": &analytics.TopReferers,
	}
	for dimension, target := range targets {
		groups, err := r.topGroups(ctx, urlID, dimension, from, to)
		if err != nil {
			return nil, err
		}
		*target = groups
	}

	return analytics, nil
}

func (r *clickRepository) topGroups(ctx context.Context, urlID, dimension string, from, to time.Time) ([]models.GroupCount, error) {
	column, ok := groupColumns[dimension]
	if !ok {
		return nil, fmt.Errorf("unknown analytics dimension %q", dimension)
	}

	query := fmt.Sprintf(`
		SELECT %s AS value, COUNT(*) AS clicks
		FROM clicks
		WHERE url_id = $1 AND clicked_at >= $2 AND clicked_at < $3
		GROUP BY value
		ORDER BY clicks DESC, value ASC
		LIMIT %d
	`, column, topGroupLimit)

	rows, err := r.db.Pool.Query(ctx, query, urlID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to group clicks by %s: %w", dimension, err)
	}
	defer rows.Close()

	groups := make([]models.GroupCount, 0, topGroupLimit)
	for rows.Next() {
		var g models.GroupCount
		if err := rows.Scan(&g.Value, &g.Clicks); err != nil {
			return nil, fmt.Errorf("failed to scan %s group: %w", dimension, err)
		}
		groups = append(groups, g)
	}

	return groups, rows.Err()
}
