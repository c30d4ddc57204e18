package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/NutriTrack/internal/models"
)

const synthesizerSystemPrompt = `You are a friendly WhatsApp nutrition coach. Given a structured meal record, write the reply in exactly this shape:

<one personalized opening line about the meal>

⚡ Calories: <calories> kcal
🥩 Protein: <protein>g
🥑 Fats: <fat>g
🍚 Carbs: <carbs>g

<one motivational or witty closing line>

Keep your total response under 1500 characters for WhatsApp.`

// synthesizeStage turns the extracted record into the user-facing reply. If
// the model call fails, the reply is built deterministically from the record
// so the user still gets their numbers.
func (c *Controller) synthesizeStage(ctx context.Context, state *models.WorkflowState) {
	if state.Record == nil {
		slog.Warn("Controller.synthesizeStage: entered without a record", "sender", state.Message.Sender)
		state.Response = InternalErrorReply
		return
	}
	record := state.Record

	user := fmt.Sprintf("Meal: %s\nDescription: %s\nCalories: %d\nProtein: %dg\nCarbs: %dg\nFat: %dg",
		record.Name, record.Description, record.Calories, record.ProteinGrams, record.CarbGrams, record.FatGrams)
	if name := c.profileName(state.Message.Sender); name != "" {
		user += "\nUser's name: " + name
	}

	response, err := c.ga.GeneratePrompt(ctx, synthesizerSystemPrompt, user)
	if err != nil || response == "" {
		slog.Warn("Controller.synthesizeStage: model call failed, using plain template", "error", err, "sender", state.Message.Sender)
		state.Response = plainMealReply(record)
		return
	}
	state.Response = response
	slog.Debug("Controller.synthesizeStage: reply synthesized", "sender", state.Message.Sender, "response_length", len(response))
}

// profileName returns the sender's stored name, or "" when no profile exists.
func (c *Controller) profileName(sender string) string {
	if c.st == nil {
		return ""
	}
	profile, err := c.st.GetUserProfile(sender)
	if err != nil || profile == nil {
		return ""
	}
	return profile.Name
}

// plainMealReply renders the reply template without a model.
func plainMealReply(record *models.MealRecord) string {
	return fmt.Sprintf("Logged %s!\n\n⚡ Calories: %d kcal\n🥩 Protein: %dg\n🥑 Fats: %dg\n🍚 Carbs: %dg\n\nKeep it up!",
		record.Name, record.Calories, record.ProteinGrams, record.FatGrams, record.CarbGrams)
}
