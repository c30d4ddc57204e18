// Package genai provides the OpenAI-backed language model client for NutriTrack.
//
// All workflow stages that talk to a model go through this package: plain
// completions for routing and synthesis, vision completions for image-based
// extraction, tool-calling completions for the summary loop, and Whisper
// transcription for voice notes.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/NutriTrack/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default model configuration. The vision default matches the text default
// because gpt-4o-mini accepts image content parts.
const (
	DefaultModel              = openai.ChatModelGPT4oMini
	DefaultVisionModel        = openai.ChatModelGPT4oMini
	DefaultTranscriptionModel = openai.AudioModelWhisper1
)

// ErrNoChoicesReturned indicates the model responded without any choices.
var ErrNoChoicesReturned = errors.New("no choices returned from model")

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey             string
	Model              string
	VisionModel        string
	TranscriptionModel string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model used for text-only completions.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithVisionModel sets the chat model used when image content is attached.
func WithVisionModel(model string) Option {
	return func(o *Opts) { o.VisionModel = model }
}

// WithTranscriptionModel sets the speech-to-text model.
func WithTranscriptionModel(model string) Option {
	return func(o *Opts) { o.TranscriptionModel = model }
}

// chatService abstracts the OpenAI chat completion API for testability.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// audioService abstracts the OpenAI audio transcription API for testability.
type audioService interface {
	Transcribe(ctx context.Context, params openai.AudioTranscriptionNewParams) (openai.Transcription, error)
}

type openaiChatService struct {
	client openai.Client
}

func (s openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	completion, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *completion, nil
}

type openaiAudioService struct {
	client openai.Client
}

func (s openaiAudioService) Transcribe(ctx context.Context, params openai.AudioTranscriptionNewParams) (openai.Transcription, error) {
	transcription, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return openai.Transcription{}, err
	}
	return *transcription, nil
}

// ToolCallResponse carries either final content or requested tool calls from
// one tool-enabled completion round.
type ToolCallResponse struct {
	Content   string
	ToolCalls []models.ToolCall
}

// Client wraps the OpenAI API for NutriTrack's workflow stages.
type Client struct {
	chat               chatService
	audio              audioService
	model              openai.ChatModel
	visionModel        openai.ChatModel
	transcriptionModel openai.AudioModel
}

// ClientInterface defines the operations workflow stages need from the model
// client. Stages depend on this interface so tests can substitute mocks.
type ClientInterface interface {
	GeneratePrompt(ctx context.Context, system, user string) (string, error)
	GenerateVision(ctx context.Context, system, user string, imageDataURLs []string) (string, error)
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error)
	Transcribe(ctx context.Context, audio io.Reader, contentType string) (string, error)
}

// Ensure Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)

// NewClient creates a GenAI client based on provided options. The API key
// falls back to the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("GenAI.NewClient: creating client", "api_key_set", cfg.APIKey != "", "model", cfg.Model, "vision_model", cfg.VisionModel)

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("GenAI.NewClient: OpenAI API key not set")
		return nil, fmt.Errorf("OpenAI API key not set")
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	c := &Client{
		chat:               openaiChatService{client: client},
		audio:              openaiAudioService{client: client},
		model:              DefaultModel,
		visionModel:        DefaultVisionModel,
		transcriptionModel: DefaultTranscriptionModel,
	}
	if cfg.Model != "" {
		c.model = openai.ChatModel(cfg.Model)
	}
	if cfg.VisionModel != "" {
		c.visionModel = openai.ChatModel(cfg.VisionModel)
	}
	if cfg.TranscriptionModel != "" {
		c.transcriptionModel = openai.AudioModel(cfg.TranscriptionModel)
	}
	slog.Info("GenAI client initialized", "model", c.model, "vision_model", c.visionModel, "transcription_model", c.transcriptionModel)
	return c, nil
}

// GeneratePrompt generates a completion from a system and user prompt pair.
func (c *Client) GeneratePrompt(ctx context.Context, system, user string) (string, error) {
	slog.Debug("GenAI.GeneratePrompt: generating", "system_len", len(system), "user_len", len(user))
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(user),
	}
	return c.complete(ctx, c.model, messages)
}

// GenerateVision generates a completion over text plus inline image data
// URLs using the vision-capable model.
func (c *Client) GenerateVision(ctx context.Context, system, user string, imageDataURLs []string) (string, error) {
	slog.Debug("GenAI.GenerateVision: generating", "user_len", len(user), "images", len(imageDataURLs))
	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(user),
	}
	for _, url := range imageDataURLs {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system),
		openai.UserMessage(parts),
	}
	return c.complete(ctx, c.visionModel, messages)
}

// GenerateWithMessages generates a completion from a full message history.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	slog.Debug("GenAI.GenerateWithMessages: generating", "messages", len(messages))
	return c.complete(ctx, c.model, messages)
}

// GenerateWithTools runs one completion round with tool definitions attached
// and returns either final content or the tool calls the model requested.
func (c *Client) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	slog.Debug("GenAI.GenerateWithTools: generating", "messages", len(messages), "tools", len(tools))
	completion, err := c.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		slog.Error("GenAI.GenerateWithTools: completion failed", "error", err)
		return nil, fmt.Errorf("failed to generate completion with tools: %w", err)
	}
	if len(completion.Choices) == 0 {
		slog.Error("GenAI.GenerateWithTools: no choices returned")
		return nil, ErrNoChoicesReturned
	}

	message := completion.Choices[0].Message
	response := &ToolCallResponse{Content: message.Content}
	for _, tc := range message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: models.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			},
		})
	}
	slog.Debug("GenAI.GenerateWithTools: completed", "content_len", len(response.Content), "tool_calls", len(response.ToolCalls))
	return response, nil
}

// audioExtensions maps MIME subtypes to upload file extensions the
// transcription endpoint recognizes.
var audioExtensions = map[string]string{
	"audio/ogg":   "ogg",
	"audio/oga":   "ogg",
	"audio/mpeg":  "mp3",
	"audio/mp3":   "mp3",
	"audio/mp4":   "m4a",
	"audio/x-m4a": "m4a",
	"audio/wav":   "wav",
	"audio/x-wav": "wav",
	"audio/webm":  "webm",
	"audio/flac":  "flac",
}

// audioUploadName derives a synthetic filename for an audio upload. The
// transcription endpoint infers the audio format from the filename
// extension, so an upload without one is rejected. Unknown content types
// fall back to ogg, the WhatsApp voice note format.
func audioUploadName(contentType string) string {
	mediaType := contentType
	if idx := strings.Index(mediaType, ";"); idx != -1 {
		mediaType = mediaType[:idx]
	}
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if ext, ok := audioExtensions[mediaType]; ok {
		return "audio." + ext
	}
	return "audio.ogg"
}

// Transcribe converts audio bytes to text via the speech-to-text model.
// The contentType determines the upload filename extension the endpoint
// uses to detect the audio format.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, contentType string) (string, error) {
	filename := audioUploadName(contentType)
	slog.Debug("GenAI.Transcribe: transcribing audio", "model", c.transcriptionModel, "content_type", contentType, "filename", filename)
	transcription, err := c.audio.Transcribe(ctx, openai.AudioTranscriptionNewParams{
		Model: c.transcriptionModel,
		File:  openai.File(audio, filename, contentType),
	})
	if err != nil {
		slog.Error("GenAI.Transcribe: transcription failed", "error", err)
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	slog.Debug("GenAI.Transcribe: transcription complete", "text_len", len(transcription.Text))
	return transcription.Text, nil
}

func (c *Client) complete(ctx context.Context, model openai.ChatModel, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	completion, err := c.chat.Create(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("GenAI.complete: completion failed", "error", err, "model", model)
		return "", fmt.Errorf("failed to generate completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		slog.Error("GenAI.complete: no choices returned", "model", model)
		return "", ErrNoChoicesReturned
	}
	content := completion.Choices[0].Message.Content
	slog.Debug("GenAI.complete: completion succeeded", "model", model, "content_len", len(content))
	return content, nil
}
