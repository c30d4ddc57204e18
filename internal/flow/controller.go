// Package flow implements the per-message workflow controller for NutriTrack.
//
// Each inbound message is threaded through a small state machine:
//
//	START -> TRANSCRIBE (audio only) -> ROUTE -> EXTRACT -> SYNTHESIZE -> END
//	                                          -> SUMMARIZE -------------> END
//	                                          -> END (intent "other")
//
// Any stage may short-circuit by setting the final response, after which no
// further stage runs. Stages never return errors past the controller: model
// and media failures degrade to fallback text, persistence failures are
// recorded on the state and the reply is still sent.
package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/NutriTrack/internal/genai"
	"github.com/BTreeMap/NutriTrack/internal/models"
	"github.com/BTreeMap/NutriTrack/internal/store"
	"github.com/BTreeMap/NutriTrack/internal/twiliowhatsapp"
)

// InternalErrorReply is sent when processing ends without any stage having
// produced a response.
const InternalErrorReply = "Sorry, something went wrong while processing your message. Please try again later."

// maxTransitions bounds the state machine loop; the longest legal path is
// START -> TRANSCRIBE -> ROUTE -> EXTRACT -> SYNTHESIZE -> END.
const maxTransitions = 10

// Controller owns the workflow state machine. One Controller serves all
// requests; each Process call builds its own WorkflowState, so concurrent
// requests never share mutable state.
type Controller struct {
	ga    genai.ClientInterface
	st    store.Store
	media twiliowhatsapp.MediaFetcher
	now   func() time.Time
}

// NewController creates a workflow controller.
func NewController(ga genai.ClientInterface, st store.Store, media twiliowhatsapp.MediaFetcher) *Controller {
	slog.Debug("flow.NewController: creating controller", "has_genai", ga != nil, "has_store", st != nil, "has_media_fetcher", media != nil)
	return &Controller{ga: ga, st: st, media: media, now: time.Now}
}

// Process runs one inbound message through the state machine and returns the
// terminal WorkflowState. The response field is always non-empty on return.
func (c *Controller) Process(ctx context.Context, msg models.InboundMessage) *models.WorkflowState {
	state := models.NewWorkflowState(msg)
	slog.Debug("Controller.Process: starting", "sender", msg.Sender, "body_length", len(msg.Body), "attachments", len(msg.Attachments))

	for i := 0; state.Current != models.StateEnd && i < maxTransitions; i++ {
		next := c.step(ctx, state)
		// Short-circuit rule: a set response ends the workflow regardless
		// of the transition table.
		if state.Response != "" {
			next = models.StateEnd
		}
		slog.Debug("Controller.Process: transition", "sender", msg.Sender, "from", state.Current, "to", next)
		state.Current = next
	}
	state.Current = models.StateEnd

	if state.Response == "" {
		slog.Error("Controller.Process: reached END without a response", "sender", msg.Sender, "intent", state.Intent)
		state.Response = InternalErrorReply
	}

	c.saveSnapshot(state)
	slog.Info("Controller.Process: finished", "sender", msg.Sender, "intent", state.Intent, "db_status", state.DBOperationStatus, "response_length", len(state.Response))
	return state
}

// step executes the stage for the current state and returns the next state
// per the transition table.
func (c *Controller) step(ctx context.Context, state *models.WorkflowState) models.WorkflowStateType {
	switch state.Current {
	case models.StateStart:
		if state.Message.FirstAudio() != nil {
			return models.StateTranscribe
		}
		return models.StateRoute
	case models.StateTranscribe:
		c.transcribeStage(ctx, state)
		return models.StateRoute
	case models.StateRoute:
		c.routeStage(ctx, state)
		switch state.Intent {
		case models.IntentMealTracking:
			return models.StateExtract
		case models.IntentSummary:
			return models.StateSummarize
		default:
			return models.StateEnd
		}
	case models.StateExtract:
		c.extractStage(ctx, state)
		return models.StateSynthesize
	case models.StateSummarize:
		c.summarizeStage(ctx, state)
		return models.StateEnd
	case models.StateSynthesize:
		c.synthesizeStage(ctx, state)
		return models.StateEnd
	default:
		slog.Error("Controller.step: unknown state", "state", state.Current)
		return models.StateEnd
	}
}

// resolveImages fetches image attachments as data URLs, once per request.
// Fetch failures degrade to fewer (possibly zero) images.
func (c *Controller) resolveImages(ctx context.Context, state *models.WorkflowState) []string {
	if state.ImagesResolved {
		return state.ImageDataURLs
	}
	state.ImagesResolved = true
	for _, img := range state.Message.Images() {
		if img.DataURL != "" {
			state.ImageDataURLs = append(state.ImageDataURLs, img.DataURL)
			continue
		}
		if c.media == nil || img.URL == "" {
			continue
		}
		_, dataURL, err := c.media.FetchMedia(ctx, img.URL)
		if err != nil {
			slog.Warn("Controller.resolveImages: image fetch failed", "error", err, "url", img.URL)
			continue
		}
		state.ImageDataURLs = append(state.ImageDataURLs, dataURL)
	}
	slog.Debug("Controller.resolveImages: resolved", "count", len(state.ImageDataURLs))
	return state.ImageDataURLs
}

// saveSnapshot writes the audit row for a finished request. Failures are
// logged and dropped; the snapshot is observability, not data.
func (c *Controller) saveSnapshot(state *models.WorkflowState) {
	if c.st == nil {
		return
	}
	snapshot := models.StateSnapshot{
		Sender:     state.Message.Sender,
		Body:       state.Body,
		NumMedia:   len(state.Message.Attachments),
		Intent:     string(state.Intent),
		Response:   state.Response,
		DBStatus:   state.DBOperationStatus,
		FinalState: string(state.Current),
	}
	if _, err := c.st.SaveStateSnapshot(snapshot); err != nil {
		slog.Warn("Controller.saveSnapshot: failed to save snapshot", "error", err, "sender", state.Message.Sender)
	}
}
