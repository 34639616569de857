package service

import (
	"errors"
)

// Ошибки проверки доступа при резолве
var (
	ErrNotFound          = errors.New("url not found")
	ErrInactive          = errors.New("url is inactive")
	ErrExpired           = errors.New("url has expired")
	ErrLimitExceeded     = errors.New("url click limit reached")
	ErrPasswordRequired  = errors.New("password required")
	ErrIncorrectPassword = errors.New("incorrect password")
)

// Ошибки управления ссылками
var (
	ErrUnauthorized      = errors.New("not allowed to modify this url")
	ErrInvalidURL        = errors.New("invalid url format")
	ErrInvalidSlug       = errors.New("invalid custom slug")
	ErrSlugTaken         = errors.New("slug already taken")
	ErrSlugGeneration    = errors.New("failed to generate a unique slug")
	ErrInvalidExpiry     = errors.New("expiration date must be in the future")
	ErrInvalidClickLimit = errors.New("click limit must be positive")
	ErrBlockedDomain     = errors.New("domain is blocked")
)

// Ошибки тарифных ограничений
var (
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrFeatureNotInPlan     = errors.New("feature not included in plan")
	ErrUsageLimitExceeded   = errors.New("feature usage limit exceeded")
)
