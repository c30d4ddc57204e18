package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/NutriTrack/internal/models"
)

// FallbackReply is sent when the message is unrelated to meal tracking.
const FallbackReply = "I'm not sure how to help with that. Can you tell me about a meal you'd like me to analyze or send a photo of your food?"

const routerSystemPrompt = `You are the message router for a WhatsApp nutrition tracking assistant.
Classify the user's message into exactly one of these intents:

- meal_tracking: the message describes food the user ate or is about to eat, asks for a nutritional analysis of a meal, or contains a photo of food.
- summary: the message asks for an overview, recap, totals, or averages of previously tracked meals (for example "how did I eat this week?").
- other: anything else.

Respond with only the intent label, nothing else.`

// routeStage classifies the working body (plus any attached images) into an
// intent. Unknown labels collapse to "other", which short-circuits with the
// fixed fallback reply. Classifier failure degrades to "other" as well.
func (c *Controller) routeStage(ctx context.Context, state *models.WorkflowState) {
	images := c.resolveImages(ctx, state)

	var raw string
	var err error
	if len(images) > 0 {
		raw, err = c.ga.GenerateVision(ctx, routerSystemPrompt, state.Body, images)
	} else {
		raw, err = c.ga.GeneratePrompt(ctx, routerSystemPrompt, state.Body)
	}
	if err != nil {
		slog.Warn("Controller.routeStage: classification failed", "error", err, "sender", state.Message.Sender)
		state.Intent = models.IntentOther
		state.Response = FallbackReply
		return
	}

	state.Intent = models.ParseIntent(raw)
	slog.Debug("Controller.routeStage: classified", "sender", state.Message.Sender, "raw", raw, "intent", state.Intent)

	if state.Intent == models.IntentOther {
		state.Response = FallbackReply
	}
}
