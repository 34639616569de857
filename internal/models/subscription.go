package models

import (
	"fmt"
	"time"
)

const (
	FeatureURLCreation   = "url_creation"
	FeatureClickTracking = "click_tracking"
)

const RoleAdmin = "ADMIN"

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
	SubscriptionPaused   SubscriptionStatus = "PAUSED"
	SubscriptionExpired  SubscriptionStatus = "EXPIRED"
)

type Subscription struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	PlanID             string             `json:"plan_id"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	Features           map[string]string  `json:"features"`
}

// UsageKey identifies one feature counter within one billing period.
type UsageKey struct {
	UserID         string
	SubscriptionID string
	FeatureKey     string
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

// CacheKey renders the counter key, for example
// feature_usage:u1:s1:url_creation:2026-10-01T00:00:00Z:2026-11-01T00:00:00Z
func (k UsageKey) CacheKey() string {
	return fmt.Sprintf("feature_usage:%s:%s:%s:%s:%s",
		k.UserID,
		k.SubscriptionID,
		k.FeatureKey,
		k.PeriodStart.UTC().Format(time.RFC3339),
		k.PeriodEnd.UTC().Format(time.RFC3339),
	)
}

type UsageCheck struct {
	Feature   string `json:"feature"`
	Used      int64  `json:"used"`
	Limit     int64  `json:"limit"`
	Allowed   bool   `json:"allowed"`
	Unlimited bool   `json:"unlimited"`
}

// UsageSyncJob asks the billing side to persist a counter value.
type UsageSyncJob struct {
	UserID         string    `json:"user_id"`
	SubscriptionID string    `json:"subscription_id"`
	FeatureKey     string    `json:"feature_key"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	Used           int64     `json:"used"`
}

func (j UsageSyncJob) Key() UsageKey {
	return UsageKey{
		UserID:         j.UserID,
		SubscriptionID: j.SubscriptionID,
		FeatureKey:     j.FeatureKey,
		PeriodStart:    j.PeriodStart,
		PeriodEnd:      j.PeriodEnd,
	}
}
