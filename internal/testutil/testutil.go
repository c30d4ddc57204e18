// Package testutil provides common test helpers shared across NutriTrack tests.
package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/NutriTrack/internal/models"
	"github.com/BTreeMap/NutriTrack/internal/store"
)

// SeedMealRecords saves the given records and fails the test on any error.
func SeedMealRecords(t *testing.T, st store.Store, records ...models.MealRecord) {
	t.Helper()
	for _, r := range records {
		if _, err := st.SaveMealRecord(r); err != nil {
			t.Fatalf("failed to seed meal record %q: %v", r.Name, err)
		}
	}
}

// AssertMealCount validates the number of stored meal records.
func AssertMealCount(t *testing.T, st store.Store, expected int, context string) {
	t.Helper()
	count, err := st.CountMealRecords()
	if err != nil {
		t.Fatalf("%s: failed to count meal records: %v", context, err)
	}
	if count != expected {
		t.Errorf("%s: expected %d meal records, got %d", context, expected, count)
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response body and validates its status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// MustMarshalJSON marshals an object to JSON and fails the test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
