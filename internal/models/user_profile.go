package models

import "time"

// UserProfile holds per-sender personalization captured during onboarding.
// Updates are applied only through profile.ApplyUpdates, which restricts
// writes to a closed set of fields.
type UserProfile struct {
	Sender             string    `json:"sender"`
	Name               string    `json:"name,omitempty"`
	Goal               string    `json:"goal,omitempty"`
	DailyCalorieTarget int       `json:"daily_calorie_target,omitempty"`
	Timezone           string    `json:"timezone,omitempty"`
	CreatedAt          time.Time `json:"created_at,omitempty"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
}
