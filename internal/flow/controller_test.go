package flow

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/NutriTrack/internal/genai"
	"github.com/BTreeMap/NutriTrack/internal/models"
	"github.com/BTreeMap/NutriTrack/internal/store"
	"github.com/BTreeMap/NutriTrack/internal/twiliowhatsapp"
	"github.com/openai/openai-go"
)

// mockGenAI scripts the model calls a test expects. Unset functions fail the
// calling stage.
type mockGenAI struct {
	promptFn     func(system, user string) (string, error)
	visionFn     func(system, user string, images []string) (string, error)
	toolsFn      func(messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error)
	transcribeFn func() (string, error)

	transcribeCalls int
	transcribeTypes []string
	promptSystems   []string
	promptUsers     []string
}

var _ genai.ClientInterface = (*mockGenAI)(nil)

func (m *mockGenAI) GeneratePrompt(ctx context.Context, system, user string) (string, error) {
	m.promptSystems = append(m.promptSystems, system)
	m.promptUsers = append(m.promptUsers, user)
	if m.promptFn == nil {
		return "", errors.New("unexpected GeneratePrompt call")
	}
	return m.promptFn(system, user)
}

func (m *mockGenAI) GenerateVision(ctx context.Context, system, user string, images []string) (string, error) {
	if m.visionFn == nil {
		return "", errors.New("unexpected GenerateVision call")
	}
	return m.visionFn(system, user, images)
}

func (m *mockGenAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return "", errors.New("unexpected GenerateWithMessages call")
}

func (m *mockGenAI) GenerateWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*genai.ToolCallResponse, error) {
	if m.toolsFn == nil {
		return nil, errors.New("unexpected GenerateWithTools call")
	}
	return m.toolsFn(messages, tools)
}

func (m *mockGenAI) Transcribe(ctx context.Context, audio io.Reader, contentType string) (string, error) {
	m.transcribeCalls++
	m.transcribeTypes = append(m.transcribeTypes, contentType)
	if m.transcribeFn == nil {
		return "", errors.New("unexpected Transcribe call")
	}
	return m.transcribeFn()
}

// routerThen builds a promptFn that answers the router call with intent and
// every later prompt call with the given responses in order.
func routerThen(intent string, responses ...string) func(system, user string) (string, error) {
	i := 0
	return func(system, user string) (string, error) {
		if strings.Contains(system, "message router") {
			return intent, nil
		}
		if i < len(responses) {
			r := responses[i]
			i++
			return r, nil
		}
		return "", errors.New("no scripted response left")
	}
}

func newTestController(ga genai.ClientInterface, st store.Store) *Controller {
	c := NewController(ga, st, twiliowhatsapp.NewMockClient())
	c.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestMealTrackingEndToEnd(t *testing.T) {
	st := store.NewInMemoryStore()
	ga := &mockGenAI{
		promptFn: routerThen("meal_tracking",
			`{"meal_name":"grilled chicken with rice","meal_description":"chicken and rice","meal_calories":400,"meal_protein":40,"meal_carbs":30,"meal_fat":10}`,
			"Nice choice!\n\n⚡ Calories: 400 kcal\n🥩 Protein: 40g\n🥑 Fats: 10g\n🍚 Carbs: 30g\n\nKeep crushing it!"),
	}
	c := newTestController(ga, st)

	state := c.Process(context.Background(), models.InboundMessage{
		Body:   "grilled chicken with rice, 400 cal, 40g protein, 10g fat, 30g carbs",
		Sender: "15551234567",
	})

	if state.Intent != models.IntentMealTracking {
		t.Errorf("intent = %q, want meal_tracking", state.Intent)
	}
	if state.Record == nil {
		t.Fatal("expected an extracted record")
	}
	r := state.Record
	if r.Calories != 400 || r.ProteinGrams != 40 || r.FatGrams != 10 || r.CarbGrams != 30 {
		t.Errorf("record = %+v", r)
	}
	if state.DBOperationStatus != models.DBStatusSuccess {
		t.Errorf("db status = %q", state.DBOperationStatus)
	}
	if !strings.Contains(state.Response, "400") || !strings.Contains(state.Response, "40g") {
		t.Errorf("response missing nutrient values: %q", state.Response)
	}
	if len(state.Response) > 1500 {
		t.Errorf("response exceeds 1500 characters: %d", len(state.Response))
	}
	count, _ := st.CountMealRecords()
	if count != 1 {
		t.Errorf("expected 1 persisted record, got %d", count)
	}
}

func TestOtherIntentShortCircuits(t *testing.T) {
	st := store.NewInMemoryStore()
	ga := &mockGenAI{promptFn: routerThen("other")}
	c := newTestController(ga, st)

	state := c.Process(context.Background(), models.InboundMessage{
		Body:   "what's the weather today",
		Sender: "15551234567",
	})

	if state.Response != FallbackReply {
		t.Errorf("response = %q, want the fixed fallback", state.Response)
	}
	if state.Record != nil || state.DBOperationStatus != "" {
		t.Errorf("no extraction or persistence may run after short-circuit: %+v", state)
	}
	if count, _ := st.CountMealRecords(); count != 0 {
		t.Errorf("expected no persisted records, got %d", count)
	}
}

func TestUnknownClassifierOutputTreatedAsOther(t *testing.T) {
	ga := &mockGenAI{promptFn: routerThen("recipe_request")}
	c := newTestController(ga, store.NewInMemoryStore())

	state := c.Process(context.Background(), models.InboundMessage{Body: "hm", Sender: "15551234567"})
	if state.Intent != models.IntentOther || state.Response != FallbackReply {
		t.Errorf("unknown label must default to other: intent=%q response=%q", state.Intent, state.Response)
	}
}

func TestAudioMessageVisitsTranscribeBeforeRoute(t *testing.T) {
	media := twiliowhatsapp.NewMockClient()
	media.MediaType = "audio/ogg"
	media.MediaData = []byte("voice-note-bytes")
	ga := &mockGenAI{
		transcribeFn: func() (string, error) { return "two eggs and toast", nil },
		promptFn:     routerThen("other"),
	}
	c := NewController(ga, store.NewInMemoryStore(), media)

	state := c.Process(context.Background(), models.InboundMessage{
		Sender:      "15551234567",
		Attachments: []models.MediaRef{{ContentType: "audio/ogg", URL: "https://api.twilio.example/media/1"}},
	})

	if ga.transcribeCalls != 1 {
		t.Fatalf("transcribe calls = %d, want 1", ga.transcribeCalls)
	}
	// The fetched content type must reach transcription so the upload can
	// carry the right filename extension.
	if ga.transcribeTypes[0] != "audio/ogg" {
		t.Errorf("transcribe content type = %q, want audio/ogg", ga.transcribeTypes[0])
	}
	// Empty body: the transcript becomes the body verbatim.
	if state.Body != "two eggs and toast" {
		t.Errorf("body = %q", state.Body)
	}
	// The router must have seen the transcribed body.
	if len(ga.promptUsers) == 0 || ga.promptUsers[0] != "two eggs and toast" {
		t.Errorf("router input = %v", ga.promptUsers)
	}
}

func TestTextMessageSkipsTranscribe(t *testing.T) {
	ga := &mockGenAI{promptFn: routerThen("other")}
	c := newTestController(ga, store.NewInMemoryStore())

	c.Process(context.Background(), models.InboundMessage{Body: "hello", Sender: "15551234567"})
	if ga.transcribeCalls != 0 {
		t.Errorf("transcribe calls = %d, want 0", ga.transcribeCalls)
	}
}

func TestTranscriptAppendedToNonEmptyBody(t *testing.T) {
	media := twiliowhatsapp.NewMockClient()
	media.MediaType = "audio/ogg"
	media.MediaData = []byte("bytes")
	ga := &mockGenAI{
		transcribeFn: func() (string, error) { return "with extra cheese", nil },
		promptFn:     routerThen("other"),
	}
	c := NewController(ga, store.NewInMemoryStore(), media)

	state := c.Process(context.Background(), models.InboundMessage{
		Body:        "pizza",
		Sender:      "15551234567",
		Attachments: []models.MediaRef{{ContentType: "audio/ogg", URL: "u"}},
	})

	want := "pizza\n[Audio Transcription: with extra cheese]"
	if state.Body != want {
		t.Errorf("body = %q, want %q", state.Body, want)
	}
}

func TestTranscriptionFailureStillRoutes(t *testing.T) {
	media := twiliowhatsapp.NewMockClient()
	media.MediaType = "audio/ogg"
	media.MediaData = []byte("bytes")
	ga := &mockGenAI{
		transcribeFn: func() (string, error) { return "", errors.New("whisper down") },
		promptFn:     routerThen("other"),
	}
	c := NewController(ga, store.NewInMemoryStore(), media)

	state := c.Process(context.Background(), models.InboundMessage{
		Sender:      "15551234567",
		Attachments: []models.MediaRef{{ContentType: "audio/ogg", URL: "u"}},
	})

	if state.Body != "[Audio transcription failed. Please try again or describe your meal in text.]" {
		t.Errorf("body = %q", state.Body)
	}
	// Routing still ran on the failure notice and produced a reply.
	if state.Response != FallbackReply {
		t.Errorf("response = %q", state.Response)
	}
}

func TestPersistenceFailureStillReplies(t *testing.T) {
	st := &failingSaveStore{Store: store.NewInMemoryStore()}
	ga := &mockGenAI{
		promptFn: routerThen("meal_tracking",
			`{"meal_name":"salad","meal_calories":150,"meal_protein":5,"meal_carbs":10,"meal_fat":8}`,
			"Salad logged! ⚡ Calories: 150 kcal 🥩 Protein: 5g 🥑 Fats: 8g 🍚 Carbs: 10g. Nice and light!"),
	}
	c := newTestController(ga, st)

	state := c.Process(context.Background(), models.InboundMessage{Body: "a salad", Sender: "15551234567"})

	if !strings.HasPrefix(state.DBOperationStatus, models.DBStatusErrorPrefix) {
		t.Errorf("db status = %q, want error marker", state.DBOperationStatus)
	}
	if !strings.Contains(state.Response, "150") {
		t.Errorf("reply must still be synthesized after a save failure: %q", state.Response)
	}
}

func TestUnparsableExtractionBecomesResponse(t *testing.T) {
	raw := "That looks like a healthy bowl, roughly 500 calories."
	ga := &mockGenAI{promptFn: routerThen("meal_tracking", raw)}
	c := newTestController(ga, store.NewInMemoryStore())

	state := c.Process(context.Background(), models.InboundMessage{Body: "a bowl", Sender: "15551234567"})

	if state.Response != raw {
		t.Errorf("response = %q, want raw model output", state.Response)
	}
	if state.DBOperationStatus != "" {
		t.Errorf("no save may happen for unparsable output, got status %q", state.DBOperationStatus)
	}
}

func TestClassifierFailureFallsBack(t *testing.T) {
	ga := &mockGenAI{promptFn: func(system, user string) (string, error) { return "", errors.New("model down") }}
	c := newTestController(ga, store.NewInMemoryStore())

	state := c.Process(context.Background(), models.InboundMessage{Body: "chicken", Sender: "15551234567"})
	if state.Response != FallbackReply {
		t.Errorf("response = %q, want fallback", state.Response)
	}
}

func TestSnapshotSavedOnCompletion(t *testing.T) {
	st := store.NewInMemoryStore()
	ga := &mockGenAI{promptFn: routerThen("other")}
	c := newTestController(ga, st)

	c.Process(context.Background(), models.InboundMessage{Body: "hi", Sender: "15551234567"})

	snaps := st.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].Intent != string(models.IntentOther) || snaps[0].FinalState != string(models.StateEnd) {
		t.Errorf("snapshot = %+v", snaps[0])
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                     `{"a":1}`,
		"```json\n{\"a\":1}\n```":       `{"a":1}`,
		"```\n{\"a\":1}\n```":           `{"a":1}`,
		"  {\"a\":1}  ":                 `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}

// failingSaveStore rejects meal saves but delegates everything else.
type failingSaveStore struct {
	store.Store
}

func (f *failingSaveStore) SaveMealRecord(record models.MealRecord) (string, error) {
	return "", errors.New("disk full")
}
