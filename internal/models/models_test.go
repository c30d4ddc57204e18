package models

import (
	"testing"
	"time"
)

func TestParseIntentKnownLabels(t *testing.T) {
	cases := map[string]Intent{
		"meal_tracking":   IntentMealTracking,
		"summary":         IntentSummary,
		"other":           IntentOther,
		"  Meal_Tracking ": IntentMealTracking,
		"SUMMARY":         IntentSummary,
	}
	for raw, want := range cases {
		if got := ParseIntent(raw); got != want {
			t.Errorf("ParseIntent(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestParseIntentDefaultsToOther(t *testing.T) {
	for _, raw := range []string{"", "weather", "meal tracking", "banana", "summarize please"} {
		if got := ParseIntent(raw); got != IntentOther {
			t.Errorf("ParseIntent(%q) = %q, want %q", raw, got, IntentOther)
		}
	}
}

func TestFirstAudioPicksOnlyFirst(t *testing.T) {
	msg := InboundMessage{Attachments: []MediaRef{
		{ContentType: "image/jpeg", URL: "img"},
		{ContentType: "audio/ogg", URL: "first"},
		{ContentType: "audio/mpeg", URL: "second"},
	}}
	audio := msg.FirstAudio()
	if audio == nil || audio.URL != "first" {
		t.Fatalf("FirstAudio = %+v, want the first audio attachment", audio)
	}
}

func TestFirstAudioNilWithoutAudio(t *testing.T) {
	msg := InboundMessage{Attachments: []MediaRef{{ContentType: "image/png"}}}
	if audio := msg.FirstAudio(); audio != nil {
		t.Errorf("FirstAudio = %+v, want nil", audio)
	}
}

func TestImagesFiltersByPrefix(t *testing.T) {
	msg := InboundMessage{Attachments: []MediaRef{
		{ContentType: "audio/ogg"},
		{ContentType: "image/jpeg", URL: "a"},
		{ContentType: "application/pdf"},
		{ContentType: "image/png", URL: "b"},
	}}
	imgs := msg.Images()
	if len(imgs) != 2 || imgs[0].URL != "a" || imgs[1].URL != "b" {
		t.Errorf("Images = %+v, want the two image attachments in order", imgs)
	}
}

func TestSumMeals(t *testing.T) {
	records := []MealRecord{
		{Calories: 400, ProteinGrams: 40, CarbGrams: 30, FatGrams: 10},
		{Calories: 600, ProteinGrams: 20, CarbGrams: 80, FatGrams: 25},
	}
	totals := SumMeals(records)
	if totals.Calories != 1000 || totals.ProteinGrams != 60 || totals.CarbGrams != 110 || totals.FatGrams != 35 {
		t.Errorf("SumMeals = %+v", totals)
	}
}

func TestNewWorkflowState(t *testing.T) {
	msg := InboundMessage{Body: "hello", Sender: "15551234567"}
	st := NewWorkflowState(msg)
	if st.Current != StateStart {
		t.Errorf("initial state = %q, want %q", st.Current, StateStart)
	}
	if st.Body != "hello" {
		t.Errorf("initial body = %q, want message body", st.Body)
	}
	if st.Response != "" || st.Record != nil {
		t.Error("fresh state must have no response or record")
	}
}

func TestMarkDBError(t *testing.T) {
	st := NewWorkflowState(InboundMessage{})
	st.MarkDBError(ErrEmptyRecipient)
	want := DBStatusErrorPrefix + ErrEmptyRecipient.Error()
	if st.DBOperationStatus != want {
		t.Errorf("DBOperationStatus = %q, want %q", st.DBOperationStatus, want)
	}
}

func TestGetMealsToolParamsValidate(t *testing.T) {
	valid := GetMealsToolParams{StartDate: "2026-08-01", EndDate: "2026-08-29"}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
	for _, p := range []GetMealsToolParams{
		{StartDate: "", EndDate: "2026-08-29"},
		{StartDate: "2026-08-01", EndDate: ""},
		{StartDate: "08/01/2026", EndDate: "2026-08-29"},
		{StartDate: "2026-08-01", EndDate: "yesterday"},
	} {
		if err := p.Validate(); err == nil {
			t.Errorf("params %+v unexpectedly valid", p)
		}
	}
}

func TestResponseValidate(t *testing.T) {
	if err := (Response{From: "", Body: "x", Time: time.Now().Unix()}).Validate(); err == nil {
		t.Error("empty sender must be rejected")
	}
	if err := (Response{From: "15551234567"}).Validate(); err != nil {
		t.Errorf("valid response rejected: %v", err)
	}
}
