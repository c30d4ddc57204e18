package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/NutriTrack/internal/genai"
	"github.com/BTreeMap/NutriTrack/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// SummaryFailedReply is sent when the summary tool loop fails for any reason.
const SummaryFailedReply = "Sorry, I couldn't create a summary of your meal tracking data. Please try again later."

// maxToolRounds caps the summary tool-use loop.
const maxToolRounds = 10

const summarySystemPromptFormat = `You are the meal summary assistant for a WhatsApp nutrition tracking bot. Today's date is %s.

The user asks for a summary of their tracked meals. Infer the date range they mean from their message (for example "today", "this week", "last 3 days") and call the get_meals tool with that range as start_date and end_date in YYYY-MM-DD format. If the user gives no range, use the last 7 days.

From the returned meals, build a WhatsApp-friendly summary:
- One short line per day with that day's total calories, protein, carbs and fat.
- A totals line across the whole range.
- An averages line. Compute averages over the days that have at least one tracked meal, not over all calendar days in the range.
- Finish with one encouraging or witty closing line.

If no meals were tracked in the range, say so kindly and invite the user to log their next meal. Keep the whole reply under 1500 characters.`

// getMealsToolDefinition describes the get_meals tool offered to the summary
// model. The sender is injected server-side; the model only chooses dates.
func getMealsToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        "get_meals",
			Description: openai.String("Fetch the user's tracked meals between two dates (inclusive), along with nutrient totals for that range."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"start_date": map[string]interface{}{
						"type":        "string",
						"description": "First day of the range, YYYY-MM-DD",
					},
					"end_date": map[string]interface{}{
						"type":        "string",
						"description": "Last day of the range, YYYY-MM-DD",
					},
				},
				"required": []string{"start_date", "end_date"},
			},
		},
	}
}

// summarizeStage runs the model-driven aggregation loop: the model infers the
// date window from the user's own words, fetches meals through the get_meals
// tool, and writes the summary itself. Any failure substitutes the fixed
// apology.
func (c *Controller) summarizeStage(ctx context.Context, state *models.WorkflowState) {
	systemPrompt := fmt.Sprintf(summarySystemPromptFormat, c.now().UTC().Format("2006-01-02"))
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(state.Body),
	}
	tools := []openai.ChatCompletionToolParam{getMealsToolDefinition()}

	for round := 0; round < maxToolRounds; round++ {
		toolResponse, err := c.ga.GenerateWithTools(ctx, messages, tools)
		if err != nil {
			slog.Warn("Controller.summarizeStage: tool round failed", "error", err, "sender", state.Message.Sender, "round", round)
			state.Response = SummaryFailedReply
			return
		}

		if len(toolResponse.ToolCalls) == 0 {
			if toolResponse.Content == "" {
				slog.Warn("Controller.summarizeStage: empty model response", "sender", state.Message.Sender, "round", round)
				state.Response = SummaryFailedReply
				return
			}
			state.Response = toolResponse.Content
			slog.Debug("Controller.summarizeStage: summary produced", "sender", state.Message.Sender, "rounds", round+1, "response_length", len(state.Response))
			return
		}

		messages = append(messages, assistantMessageWithToolCalls(toolResponse))
		for _, toolCall := range toolResponse.ToolCalls {
			result := c.executeSummaryTool(state.Message.Sender, toolCall)
			messages = append(messages, openai.ToolMessage(result, toolCall.ID))
		}
	}

	slog.Warn("Controller.summarizeStage: tool round limit reached", "sender", state.Message.Sender, "max_rounds", maxToolRounds)
	state.Response = SummaryFailedReply
}

// assistantMessageWithToolCalls rebuilds the assistant turn so the follow-up
// tool results attach to the right calls.
func assistantMessageWithToolCalls(toolResponse *genai.ToolCallResponse) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, toolCall := range toolResponse.ToolCalls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   toolCall.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      toolCall.Function.Name,
				Arguments: string(toolCall.Function.Arguments),
			},
		})
	}
	assistantMessage := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(toolResponse.Content),
		},
		ToolCalls: toolCalls,
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantMessage}
}

// executeSummaryTool runs one tool call and encodes the outcome as JSON for
// the model. Tool errors are reported back to the model, not raised.
func (c *Controller) executeSummaryTool(sender string, toolCall models.ToolCall) string {
	if toolCall.Function.Name != "get_meals" {
		slog.Warn("Controller.executeSummaryTool: unknown tool requested", "tool", toolCall.Function.Name, "sender", sender)
		return encodeToolResult(models.ToolResult{Success: false, Error: fmt.Sprintf("unknown tool %q", toolCall.Function.Name)})
	}

	var params models.GetMealsToolParams
	if err := json.Unmarshal(toolCall.Function.Arguments, &params); err != nil {
		return encodeToolResult(models.ToolResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)})
	}
	if err := params.Validate(); err != nil {
		return encodeToolResult(models.ToolResult{Success: false, Error: err.Error()})
	}

	// The format regex in Validate does not catch calendar-invalid dates
	// like 2026-02-31; those surface here as parse errors.
	start, err := time.Parse("2006-01-02", params.StartDate)
	if err != nil {
		return encodeToolResult(models.ToolResult{Success: false, Error: fmt.Sprintf("invalid start_date: %v", err)})
	}
	end, err := time.Parse("2006-01-02", params.EndDate)
	if err != nil {
		return encodeToolResult(models.ToolResult{Success: false, Error: fmt.Sprintf("invalid end_date: %v", err)})
	}
	// Inclusive bounds: cover the whole final day.
	end = end.Add(24*time.Hour - time.Nanosecond)

	records, err := c.st.GetMealRecordsInRange(sender, start, end)
	if err != nil {
		slog.Error("Controller.executeSummaryTool: get_meals failed", "error", err, "sender", sender)
		return encodeToolResult(models.ToolResult{Success: false, Error: "failed to fetch meals"})
	}

	type mealEntry struct {
		Name     string `json:"name"`
		Date     string `json:"date"`
		Calories int    `json:"calories"`
		Protein  int    `json:"protein"`
		Carbs    int    `json:"carbs"`
		Fat      int    `json:"fat"`
	}
	meals := make([]mealEntry, 0, len(records))
	for _, r := range records {
		meals = append(meals, mealEntry{
			Name:     r.Name,
			Date:     r.CreatedAt.UTC().Format("2006-01-02"),
			Calories: r.Calories,
			Protein:  r.ProteinGrams,
			Carbs:    r.CarbGrams,
			Fat:      r.FatGrams,
		})
	}

	slog.Debug("Controller.executeSummaryTool: get_meals succeeded", "sender", sender, "start", params.StartDate, "end", params.EndDate, "count", len(meals))
	return encodeToolResult(models.ToolResult{
		Success: true,
		Data: map[string]interface{}{
			"meals":  meals,
			"totals": models.SumMeals(records),
			"count":  len(records),
		},
	})
}

func encodeToolResult(result models.ToolResult) string {
	data, err := json.Marshal(result)
	if err != nil {
		return `{"success":false,"error":"failed to encode tool result"}`
	}
	return string(data)
}
