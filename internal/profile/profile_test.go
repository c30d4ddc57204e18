package profile

import (
	"testing"

	"github.com/BTreeMap/NutriTrack/internal/models"
)

func TestApplyUpdatesKnownFields(t *testing.T) {
	p := &models.UserProfile{Sender: "15551234567"}
	err := ApplyUpdates(p, map[string]string{
		"name":                 "  Sam ",
		"goal":                 "cut",
		"daily_calorie_target": "2200",
		"timezone":             "America/Toronto",
	})
	if err != nil {
		t.Fatalf("ApplyUpdates returned error: %v", err)
	}
	if p.Name != "Sam" || p.Goal != "cut" || p.DailyCalorieTarget != 2200 || p.Timezone != "America/Toronto" {
		t.Errorf("profile = %+v", p)
	}
}

func TestApplyUpdatesRejectsUnknownField(t *testing.T) {
	p := &models.UserProfile{Sender: "u", Name: "Sam"}
	err := ApplyUpdates(p, map[string]string{"name": "Alex", "is_admin": "true"})
	if err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
	// Nothing may be mutated on failure.
	if p.Name != "Sam" {
		t.Errorf("profile mutated despite rejection: %+v", p)
	}
}

func TestApplyUpdatesValidation(t *testing.T) {
	p := &models.UserProfile{Sender: "u"}
	if err := ApplyUpdates(p, map[string]string{"daily_calorie_target": "lots"}); err == nil {
		t.Error("non-numeric calorie target must be rejected")
	}
	if err := ApplyUpdates(p, map[string]string{"daily_calorie_target": "-100"}); err == nil {
		t.Error("negative calorie target must be rejected")
	}
	if err := ApplyUpdates(p, map[string]string{"timezone": "Mars/Olympus"}); err == nil {
		t.Error("invalid timezone must be rejected")
	}
}

func TestApplyUpdatesNilProfile(t *testing.T) {
	if err := ApplyUpdates(nil, map[string]string{"name": "x"}); err == nil {
		t.Error("nil profile must be rejected")
	}
}

func TestKnownFieldsClosedSet(t *testing.T) {
	fields := KnownFields()
	if len(fields) != 4 {
		t.Errorf("known fields = %v, want exactly 4", fields)
	}
}
