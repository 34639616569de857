package models

import (
	"time"
)

const UnknownValue = "Unknown"

type ClickEvent struct {
	URLID     string    `json:"url_id"`
	UserID    string    `json:"user_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Referer   string    `json:"referer,omitempty"`
	Country   string    `json:"country"`
	City      string    `json:"city"`
	Device    string    `json:"device"`
	Browser   string    `json:"browser"`
	OS        string    `json:"os"`
	ClickedAt time.Time `json:"clicked_at"`
}

// ClickInput is the raw request metadata captured on a successful resolve.
type ClickInput struct {
	URLID     string
	UserID    string
	IPAddress string
	UserAgent string
	Referer   string
	At        time.Time
}

// ClickBatch is one flushed buffer of a single URL.
type ClickBatch struct {
	URLID        string
	Events       []ClickEvent
	UniqueClicks int64
}

type DailyRollup struct {
	URLID        string    `json:"url_id"`
	Date         time.Time `json:"date"`
	ClickCount   int64     `json:"click_count"`
	UniqueClicks int64     `json:"unique_clicks"`
}

type DateCount struct {
	Date         string `json:"date"`
	Clicks       int64  `json:"clicks"`
	UniqueClicks int64  `json:"unique_clicks"`
}

type GroupCount struct {
	Value  string `json:"value"`
	Clicks int64  `json:"clicks"`
}

type URLAnalytics struct {
	URLID        string       `json:"url_id"`
	TotalClicks  int64        `json:"total_clicks"`
	UniqueClicks int64        `json:"unique_clicks"`
	ClicksByDate []DateCount  `json:"clicks_by_date"`
	TopCountries []GroupCount `json:"top_countries"`
	TopDevices   []GroupCount `json:"top_devices"`
	TopBrowsers  []GroupCount `json:"top_browsers"`
	TopReferers  []GroupCount `json:"top_referers"`
}
