package models

import (
	"time"
)

type URL struct {
	ID           string     `json:"id"`
	Slug         string     `json:"slug"`
	OriginalURL  string     `json:"original_url"`
	Title        string     `json:"title,omitempty"`
	Description  string     `json:"description,omitempty"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ClickLimit   *int64     `json:"click_limit,omitempty"`
	TotalClicks  int64      `json:"total_clicks"`
	OwnerID      *string    `json:"owner_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasPassword reports whether the URL is access-password protected.
func (u *URL) HasPassword() bool {
	return u.PasswordHash != ""
}

// Projection returns the reduced view used on the redirect path.
func (u *URL) Projection() *URLProjection {
	return &URLProjection{
		ID:           u.ID,
		Slug:         u.Slug,
		OriginalURL:  u.OriginalURL,
		PasswordHash: u.PasswordHash,
		HasPassword:  u.HasPassword(),
		IsActive:     u.IsActive,
		ExpiresAt:    u.ExpiresAt,
		ClickLimit:   u.ClickLimit,
		TotalClicks:  u.TotalClicks,
		OwnerID:      u.OwnerID,
	}
}

// URLProjection is cached under url:{slug} and may lag the store by the cache TTL.
type URLProjection struct {
	ID           string     `json:"id"`
	Slug         string     `json:"slug"`
	OriginalURL  string     `json:"original_url"`
	PasswordHash string     `json:"password_hash,omitempty"`
	HasPassword  bool       `json:"has_password"`
	IsActive     bool       `json:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ClickLimit   *int64     `json:"click_limit,omitempty"`
	TotalClicks  int64      `json:"total_clicks"`
	OwnerID      *string    `json:"owner_id,omitempty"`
}

type CreateURLInput struct {
	OriginalURL string     `json:"original_url"`
	CustomSlug  string     `json:"custom_slug,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Password    string     `json:"password,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ClickLimit  *int64     `json:"click_limit,omitempty"`
}

// UpdateURLInput carries partial updates; nil fields are left untouched.
type UpdateURLInput struct {
	OriginalURL *string    `json:"original_url,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Password    *string    `json:"password,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ClickLimit  *int64     `json:"click_limit,omitempty"`
	// ClearExpiresAt and ClearClickLimit remove the setting; they win over a value sent alongside.
	ClearExpiresAt  bool `json:"clear_expires_at,omitempty"`
	ClearClickLimit bool `json:"clear_click_limit,omitempty"`
}

type URLPage struct {
	Items      []*URL `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}
