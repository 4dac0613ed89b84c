package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	UserID       uuid.UUID `json:"user_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	BusinessNo   string    `json:"business_no,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NotifyFrequency controls how often a saved search is re-run for a
// user. Realtime still means at most once an hour.
type NotifyFrequency string

const (
	NotifyRealtime NotifyFrequency = "realtime"
	NotifyDaily    NotifyFrequency = "daily"
	NotifyWeekly   NotifyFrequency = "weekly"
)

// Throttle is the minimum gap between two notifications.
func (f NotifyFrequency) Throttle() time.Duration {
	switch f {
	case NotifyRealtime:
		return time.Hour
	case NotifyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Lookback is how far back the saved search reaches on each run.
func (f NotifyFrequency) Lookback() time.Duration {
	switch f {
	case NotifyRealtime:
		return time.Hour
	case NotifyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Preference is a user's saved search plus its email schedule.
// SearchConditions holds the raw filter fields as submitted.
type Preference struct {
	PreferenceID       uuid.UUID       `json:"preference_id"`
	UserID             uuid.UUID       `json:"user_id"`
	SearchConditions   Payload         `json:"search_conditions"`
	EmailEnabled       bool            `json:"email_enabled"`
	Frequency          NotifyFrequency `json:"frequency"`
	LastNotificationAt *time.Time      `json:"last_notification_at,omitempty"`
}
