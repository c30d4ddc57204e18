package flow

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/NutriTrack/internal/models"
)

// Fixed transcription failure notices. The stage never raises: a failed
// transcription still yields a valid, non-empty body for routing.
const (
	transcriptionFailedSuffix = "\n[Audio transcription failed]"
	transcriptionFailedBody   = "[Audio transcription failed. Please try again or describe your meal in text.]"
)

// transcribeStage fetches the first audio attachment, transcribes it, and
// merges the transcript into the working body. Later audio attachments in
// the same message are ignored.
func (c *Controller) transcribeStage(ctx context.Context, state *models.WorkflowState) {
	audio := state.Message.FirstAudio()
	if audio == nil {
		slog.Warn("Controller.transcribeStage: entered without audio attachment", "sender", state.Message.Sender)
		return
	}

	transcript, err := c.transcribeAttachment(ctx, audio)
	if err != nil {
		slog.Warn("Controller.transcribeStage: transcription failed", "error", err, "sender", state.Message.Sender, "content_type", audio.ContentType)
		if state.Body == "" {
			state.Body = transcriptionFailedBody
		} else {
			state.Body += transcriptionFailedSuffix
		}
		return
	}

	if state.Body == "" {
		state.Body = transcript
	} else {
		state.Body += "\n[Audio Transcription: " + transcript + "]"
	}
	slog.Debug("Controller.transcribeStage: transcript merged", "sender", state.Message.Sender, "transcript_length", len(transcript))
}

func (c *Controller) transcribeAttachment(ctx context.Context, audio *models.MediaRef) (string, error) {
	if c.media == nil || audio.URL == "" {
		return "", fmt.Errorf("no media fetcher available for audio attachment")
	}
	contentType, data, err := c.media.FetchMediaBytes(ctx, audio.URL)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = audio.ContentType
	}
	return c.ga.Transcribe(ctx, bytes.NewReader(data), contentType)
}
