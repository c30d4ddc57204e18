package flow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/NutriTrack/internal/genai"
	"github.com/BTreeMap/NutriTrack/internal/models"
	"github.com/BTreeMap/NutriTrack/internal/store"
	"github.com/BTreeMap/NutriTrack/internal/testutil"
	"github.com/openai/openai-go"
)

func seedThreeDays(t *testing.T, st *store.InMemoryStore, sender string) {
	t.Helper()
	day := func(d, calories, protein, carbs, fat int) models.MealRecord {
		return models.MealRecord{
			Sender:       sender,
			Name:         "meal",
			Calories:     calories,
			ProteinGrams: protein,
			CarbGrams:    carbs,
			FatGrams:     fat,
			CreatedAt:    time.Date(2026, 8, d, 12, 0, 0, 0, time.UTC),
		}
	}
	// Three tracked days inside a five-day window; days 24 and 26 are empty.
	testutil.SeedMealRecords(t, st,
		day(23, 1000, 50, 100, 30),
		day(25, 2000, 100, 200, 60),
		day(27, 1500, 75, 150, 45),
	)
}

func getMealsCall(start, end string) *genai.ToolCallResponse {
	args, _ := json.Marshal(models.GetMealsToolParams{StartDate: start, EndDate: end})
	return &genai.ToolCallResponse{
		ToolCalls: []models.ToolCall{
			{ID: "call_1", Type: "function", Function: models.FunctionCall{Name: "get_meals", Arguments: args}},
		},
	}
}

// lastToolResult extracts the tool message content appended after a tool round.
func lastToolResult(t *testing.T, messages []openai.ChatCompletionMessageParamUnion) models.ToolResult {
	t.Helper()
	last := messages[len(messages)-1]
	if last.OfTool == nil {
		t.Fatalf("last message is not a tool result")
	}
	content := last.OfTool.Content.OfString.Value
	var result models.ToolResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		t.Fatalf("tool result is not valid JSON: %v", err)
	}
	return result
}

func TestSummaryToolLoopAggregation(t *testing.T) {
	st := store.NewInMemoryStore()
	seedThreeDays(t, st, "15551234567")

	var toolResultTotals models.MealTotals
	var toolResultCount int
	round := 0
	ga := &mockGenAI{
		promptFn: routerThen("summary"),
		toolsFn: func(messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
			round++
			switch round {
			case 1:
				return getMealsCall("2026-08-23", "2026-08-27"), nil
			case 2:
				result := lastToolResult(t, messages)
				if !result.Success {
					t.Fatalf("tool result not successful: %+v", result)
				}
				data, _ := json.Marshal(result.Data)
				var payload struct {
					Totals models.MealTotals `json:"totals"`
					Count  int               `json:"count"`
				}
				json.Unmarshal(data, &payload)
				toolResultTotals = payload.Totals
				toolResultCount = payload.Count
				return &genai.ToolCallResponse{Content: "You averaged 1500 kcal over 3 tracked days. Keep going!"}, nil
			default:
				return nil, errors.New("unexpected extra round")
			}
		},
	}
	c := newTestController(ga, st)

	state := c.Process(context.Background(), models.InboundMessage{Body: "how did I eat this week?", Sender: "15551234567"})

	if !strings.Contains(state.Response, "1500") {
		t.Errorf("response = %q, want the model's summary", state.Response)
	}
	if toolResultCount != 3 {
		t.Errorf("tool saw %d records, want 3", toolResultCount)
	}
	// Multi-day total equals the sum of per-day totals.
	if toolResultTotals.Calories != 4500 || toolResultTotals.ProteinGrams != 225 || toolResultTotals.CarbGrams != 450 || toolResultTotals.FatGrams != 135 {
		t.Errorf("totals = %+v", toolResultTotals)
	}
	// Average over tracked days (3), not calendar days (5).
	if avg := toolResultTotals.Calories / toolResultCount; avg != 1500 {
		t.Errorf("average over tracked days = %d, want 1500", avg)
	}
}

func TestSummaryFailureUsesApology(t *testing.T) {
	ga := &mockGenAI{
		toolsFn: func(messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
			return nil, errors.New("model down")
		},
	}
	c := newTestController(ga, store.NewInMemoryStore())

	state := models.NewWorkflowState(models.InboundMessage{Body: "summary please", Sender: "15551234567"})
	c.summarizeStage(context.Background(), state)

	if state.Response != SummaryFailedReply {
		t.Errorf("response = %q, want the fixed apology", state.Response)
	}
}

func TestSummaryToolRoundLimit(t *testing.T) {
	calls := 0
	ga := &mockGenAI{
		toolsFn: func(messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
			calls++
			return getMealsCall("2026-08-01", "2026-08-02"), nil
		},
	}
	c := newTestController(ga, store.NewInMemoryStore())

	state := models.NewWorkflowState(models.InboundMessage{Body: "summary", Sender: "15551234567"})
	c.summarizeStage(context.Background(), state)

	if calls != maxToolRounds {
		t.Errorf("tool rounds = %d, want %d", calls, maxToolRounds)
	}
	if state.Response != SummaryFailedReply {
		t.Errorf("response = %q, want the fixed apology", state.Response)
	}
}

func TestSummaryUnknownToolReportedToModel(t *testing.T) {
	c := newTestController(&mockGenAI{}, store.NewInMemoryStore())

	result := c.executeSummaryTool("15551234567", models.ToolCall{
		ID: "call_x", Type: "function",
		Function: models.FunctionCall{Name: "delete_meals", Arguments: json.RawMessage(`{}`)},
	})
	var parsed models.ToolResult
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if parsed.Success || !strings.Contains(parsed.Error, "delete_meals") {
		t.Errorf("unexpected result: %+v", parsed)
	}
}

func TestSummaryInvalidDatesReportedToModel(t *testing.T) {
	c := newTestController(&mockGenAI{}, store.NewInMemoryStore())

	result := c.executeSummaryTool("15551234567", models.ToolCall{
		ID: "call_x", Type: "function",
		Function: models.FunctionCall{Name: "get_meals", Arguments: json.RawMessage(`{"start_date":"last week","end_date":"today"}`)},
	})
	var parsed models.ToolResult
	json.Unmarshal([]byte(result), &parsed)
	if parsed.Success {
		t.Errorf("expected failure for malformed dates: %+v", parsed)
	}
}

func TestSummaryCalendarInvalidDateReportedToModel(t *testing.T) {
	st := store.NewInMemoryStore()
	testutil.SeedMealRecords(t, st, models.MealRecord{
		Sender: "15551234567", Name: "lunch", Calories: 600,
		CreatedAt: time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC),
	})
	c := newTestController(&mockGenAI{}, st)

	// Well-formed per the format regex but not a real calendar date. It must
	// come back as a tool error, not an empty successful window.
	result := c.executeSummaryTool("15551234567", models.ToolCall{
		ID: "call_x", Type: "function",
		Function: models.FunctionCall{Name: "get_meals", Arguments: json.RawMessage(`{"start_date":"2026-02-01","end_date":"2026-02-31"}`)},
	})
	var parsed models.ToolResult
	json.Unmarshal([]byte(result), &parsed)
	if parsed.Success {
		t.Errorf("expected failure for calendar-invalid end_date: %+v", parsed)
	}
	if !strings.Contains(parsed.Error, "end_date") {
		t.Errorf("error should name the bad field: %q", parsed.Error)
	}
}

func TestSummaryWindowIncludesEndDay(t *testing.T) {
	st := store.NewInMemoryStore()
	// A meal late on the end date must still be inside the window.
	st.SaveMealRecord(models.MealRecord{
		Sender:    "u",
		Name:      "late snack",
		Calories:  200,
		CreatedAt: time.Date(2026, 8, 27, 23, 30, 0, 0, time.UTC),
	})
	c := newTestController(&mockGenAI{}, st)

	args, _ := json.Marshal(models.GetMealsToolParams{StartDate: "2026-08-27", EndDate: "2026-08-27"})
	result := c.executeSummaryTool("u", models.ToolCall{
		ID: "c", Type: "function",
		Function: models.FunctionCall{Name: "get_meals", Arguments: args},
	})
	if !strings.Contains(result, "late snack") {
		t.Errorf("end-of-day record missing from inclusive window: %s", result)
	}
}
