package repository

import "errors"

var (
	ErrURLNotFound          = errors.New("url not found")
	ErrSlugExists           = errors.New("slug already exists")
	ErrSubscriptionNotFound = errors.New("active subscription not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrCacheMiss            = errors.New("cache miss")
)
