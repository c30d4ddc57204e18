// Package profile applies onboarding updates to user profiles through a
// whitelisted setter dispatch. Field names come from a fixed closed set;
// unknown fields are rejected rather than reflected onto the struct.
package profile

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/NutriTrack/internal/models"
)

// Field names accepted by ApplyUpdates.
const (
	FieldName               = "name"
	FieldGoal               = "goal"
	FieldDailyCalorieTarget = "daily_calorie_target"
	FieldTimezone           = "timezone"
)

// setters is the closed field set. Each setter validates and assigns one
// field; there is deliberately no reflection-based fallback.
var setters = map[string]func(p *models.UserProfile, value string) error{
	FieldName: func(p *models.UserProfile, value string) error {
		p.Name = strings.TrimSpace(value)
		return nil
	},
	FieldGoal: func(p *models.UserProfile, value string) error {
		p.Goal = strings.TrimSpace(value)
		return nil
	},
	FieldDailyCalorieTarget: func(p *models.UserProfile, value string) error {
		target, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("daily_calorie_target must be an integer: %w", err)
		}
		if target < 0 {
			return fmt.Errorf("daily_calorie_target cannot be negative")
		}
		p.DailyCalorieTarget = target
		return nil
	},
	FieldTimezone: func(p *models.UserProfile, value string) error {
		tz := strings.TrimSpace(value)
		if tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", tz, err)
			}
		}
		p.Timezone = tz
		return nil
	},
}

// KnownFields returns the closed set of updatable field names.
func KnownFields() []string {
	fields := make([]string, 0, len(setters))
	for name := range setters {
		fields = append(fields, name)
	}
	return fields
}

// ApplyUpdates applies a field-name to value mapping onto the profile.
// Either all updates apply or none do: the first unknown field or failed
// validation aborts without mutating the profile.
func ApplyUpdates(p *models.UserProfile, updates map[string]string) error {
	if p == nil {
		return fmt.Errorf("profile cannot be nil")
	}

	staged := *p
	for field, value := range updates {
		setter, ok := setters[field]
		if !ok {
			slog.Warn("profile.ApplyUpdates: unknown field rejected", "field", field, "sender", p.Sender)
			return fmt.Errorf("unknown profile field %q", field)
		}
		if err := setter(&staged, value); err != nil {
			return fmt.Errorf("failed to update field %q: %w", field, err)
		}
	}

	*p = staged
	slog.Debug("profile.ApplyUpdates: applied", "sender", p.Sender, "fields", len(updates))
	return nil
}
