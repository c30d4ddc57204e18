package flow

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/BTreeMap/NutriTrack/internal/models"
)

// ExtractionFailedReply is sent when the extraction model call itself fails.
const ExtractionFailedReply = "Sorry, I couldn't analyze that meal. Please try again later."

const extractionSystemPrompt = `You are a nutrition expert. The user describes a meal in text, a photo, or both.
Estimate the nutritional content of the whole meal and respond with only a JSON object in this exact shape:

{"meal_name": "short name for the meal", "meal_description": "one sentence describing the meal", "meal_calories": 0, "meal_protein": 0, "meal_carbs": 0, "meal_fat": 0}

meal_calories is in kcal; meal_protein, meal_carbs and meal_fat are in grams.
If the user states explicit amounts, use them instead of estimating. Respond with the JSON object only, no markdown.`

// extractionResult tolerates models that return fractional numbers; fields
// the model omits default to zero.
type extractionResult struct {
	MealName        string  `json:"meal_name"`
	MealDescription string  `json:"meal_description"`
	MealCalories    float64 `json:"meal_calories"`
	MealProtein     float64 `json:"meal_protein"`
	MealCarbs       float64 `json:"meal_carbs"`
	MealFat         float64 `json:"meal_fat"`
}

// extractStage parses the working body (and any food photos) into a
// MealRecord, then saves it. A model failure short-circuits with an apology;
// unparsable model output becomes the response verbatim; a save failure is
// recorded on the state and the workflow continues to synthesis.
func (c *Controller) extractStage(ctx context.Context, state *models.WorkflowState) {
	images := c.resolveImages(ctx, state)

	var raw string
	var err error
	if len(images) > 0 {
		raw, err = c.ga.GenerateVision(ctx, extractionSystemPrompt, state.Body, images)
	} else {
		raw, err = c.ga.GeneratePrompt(ctx, extractionSystemPrompt, state.Body)
	}
	if err != nil {
		slog.Warn("Controller.extractStage: extraction call failed", "error", err, "sender", state.Message.Sender)
		state.Response = ExtractionFailedReply
		return
	}

	var result extractionResult
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &result); err != nil {
		// Malformed structured output: fall back to the raw text as the reply.
		slog.Warn("Controller.extractStage: unparsable model output", "error", err, "sender", state.Message.Sender, "raw_length", len(raw))
		state.Response = raw
		return
	}

	record := &models.MealRecord{
		Sender:       state.Message.Sender,
		Name:         result.MealName,
		Description:  result.MealDescription,
		Calories:     int(result.MealCalories),
		ProteinGrams: int(result.MealProtein),
		CarbGrams:    int(result.MealCarbs),
		FatGrams:     int(result.MealFat),
	}
	state.Record = record
	slog.Debug("Controller.extractStage: extracted", "sender", state.Message.Sender, "meal", record.Name, "calories", record.Calories)

	id, err := c.st.SaveMealRecord(*record)
	if err != nil {
		// The reply is still sent; the record is simply not available for
		// later summaries.
		slog.Error("Controller.extractStage: save failed", "error", err, "sender", state.Message.Sender)
		state.MarkDBError(err)
		return
	}
	record.ID = id
	state.DBOperationStatus = models.DBStatusSuccess
	slog.Debug("Controller.extractStage: saved", "sender", state.Message.Sender, "id", id)
}

// stripCodeFence removes a surrounding markdown code fence, which some
// models add despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
