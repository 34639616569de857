package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/jackc/pgx/v5"
)

type URLRepository interface {
	Create(ctx context.Context, url *models.URL) error
	GetByID(ctx context.Context, id string) (*models.URL, error)
	GetBySlug(ctx context.Context, slug string) (*models.URL, error)
	GetProjectionBySlug(ctx context.Context, slug string) (*models.URLProjection, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	Update(ctx context.Context, url *models.URL) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID string, limit int, afterID string) ([]*models.URL, error)
}

type urlRepository struct {
	db *PostgresDB
}

func NewURLRepository(db *PostgresDB) URLRepository {
	return &urlRepository{db: db}
}

const urlColumns = `id, slug, original_url, title, description, COALESCE(password_hash, ''), is_active,
	expires_at, click_limit, total_clicks, owner_id, created_at, updated_at`

func scanURL(row pgx.Row) (*models.URL, error) {
	var u models.URL
	err := row.Scan(
		&u.ID,
		&u.Slug,
		&u.OriginalURL,
		&u.Title,
		&u.Description,
		&u.PasswordHash,
		&u.IsActive,
		&u.ExpiresAt,
		&u.ClickLimit,
		&u.TotalClicks,
		&u.OwnerID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *urlRepository) Create(ctx context.Context, url *models.URL) error {
	query := `
		INSERT INTO urls (id, slug, original_url, title, description, password_hash, is_active,
			expires_at, click_limit, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		url.ID,
		url.Slug,
		url.OriginalURL,
		url.Title,
		url.Description,
		nullString(url.PasswordHash),
		url.IsActive,
		url.ExpiresAt,
		url.ClickLimit,
		url.OwnerID,
		url.CreatedAt,
	).Scan(&url.CreatedAt, &url.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("failed to create url: %w", err)
	}

	return nil
}

func (r *urlRepository) GetByID(ctx context.Context, id string) (*models.URL, error) {
	query := `SELECT ` + urlColumns + ` FROM urls WHERE id = $1`

	url, err := scanURL(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrURLNotFound
		}
		return nil, fmt.Errorf("failed to get url: %w", err)
	}
	return url, nil
}

func (r *urlRepository) GetBySlug(ctx context.Context, slug string) (*models.URL, error) {
	query := `SELECT ` + urlColumns + ` FROM urls WHERE slug = $1`

	url, err := scanURL(r.db.Pool.QueryRow(ctx, query, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrURLNotFound
		}
		return nil, fmt.Errorf("failed to get url: %w", err)
	}
	return url, nil
}

// GetProjectionBySlug selects only the columns the redirect path needs.
func (r *urlRepository) GetProjectionBySlug(ctx context.Context, slug string) (*models.URLProjection, error) {
	query := `
		SELECT id, slug, original_url, COALESCE(password_hash, ''), is_active,
			expires_at, click_limit, total_clicks, owner_id
		FROM urls
		WHERE slug = $1
	`

	var p models.URLProjection
	err := r.db.Pool.QueryRow(ctx, query, slug).Scan(
		&p.ID,
		&p.Slug,
		&p.OriginalURL,
		&p.PasswordHash,
		&p.IsActive,
		&p.ExpiresAt,
		&p.ClickLimit,
		&p.TotalClicks,
		&p.OwnerID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrURLNotFound
		}
		return nil, fmt.Errorf("failed to get url projection: %w", err)
	}
	p.HasPassword = p.PasswordHash != ""

	return &p, nil
}

func (r *urlRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM urls WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

// Update writes the mutable fields; slug and total_clicks are never touched here.
func (r *urlRepository) Update(ctx context.Context, url *models.URL) error {
	query := `
		UPDATE urls
		SET original_url = $2, title = $3, description = $4, password_hash = $5,
			is_active = $6, expires_at = $7, click_limit = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		url.ID,
		url.OriginalURL,
		url.Title,
		url.Description,
		nullString(url.PasswordHash),
		url.IsActive,
		url.ExpiresAt,
		url.ClickLimit,
	).Scan(&url.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrURLNotFound
		}
		return fmt.Errorf("failed to update url: %w", err)
	}

	return nil
}

func (r *urlRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM urls WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete url: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrURLNotFound
	}

	return nil
}

// ListByOwner pages by (created_at, id) descending; afterID is the last id of the previous page.
func (r *urlRepository) ListByOwner(ctx context.Context, ownerID string, limit int, afterID string) ([]*models.URL, error) {
	query := `SELECT ` + urlColumns + `
		FROM urls
		WHERE owner_id = $1
			AND ($3 = '' OR (created_at, id) < (SELECT created_at, id FROM urls WHERE id = $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, ownerID, limit, afterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list urls: %w", err)
	}
	defer rows.Close()

	urls := make([]*models.URL, 0, limit)
	for rows.Next() {
		url, err := scanURL(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan url: %w", err)
		}
		urls = append(urls, url)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating urls: %w", err)
	}

	return urls, nil
}
