// Package models defines shared data structures for NutriTrack.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Intent labels the purpose of an inbound message as decided by the router.
type Intent string

const (
	// IntentMealTracking marks a message describing a meal to analyze and store.
	IntentMealTracking Intent = "meal_tracking"
	// IntentSummary marks a request for an aggregate view of tracked meals.
	IntentSummary Intent = "summary"
	// IntentOther marks anything the bot cannot act on.
	IntentOther Intent = "other"
)

// ParseIntent maps raw classifier output to a known Intent. Anything that is
// not an exact known label collapses to IntentOther.
func ParseIntent(raw string) Intent {
	switch Intent(strings.TrimSpace(strings.ToLower(raw))) {
	case IntentMealTracking:
		return IntentMealTracking
	case IntentSummary:
		return IntentSummary
	default:
		return IntentOther
	}
}

// WorkflowStateType identifies the controller's position in the per-message
// state machine. The controller starts in StateStart and always terminates
// in StateEnd.
type WorkflowStateType string

const (
	StateStart      WorkflowStateType = "START"
	StateTranscribe WorkflowStateType = "TRANSCRIBE"
	StateRoute      WorkflowStateType = "ROUTE"
	StateExtract    WorkflowStateType = "EXTRACT"
	StateSummarize  WorkflowStateType = "SUMMARIZE"
	StateSynthesize WorkflowStateType = "SYNTHESIZE"
	StateEnd        WorkflowStateType = "END"
)

// Media content type prefixes used for attachment dispatch.
const (
	MediaPrefixAudio = "audio/"
	MediaPrefixImage = "image/"
)

// Persistence status markers recorded on WorkflowState after a save attempt.
const (
	DBStatusSuccess     = "success"
	DBStatusErrorPrefix = "error:"
)

// Validation constants.
const (
	MinPhoneNumberDigits = 6
)

// Sentinel errors.
var (
	// ErrEmptyRecipient indicates a send was attempted with no recipient.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	// ErrInvalidPhoneNumber indicates the recipient failed canonicalization.
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	// ErrEmptyMessageBody indicates a send was attempted with no body.
	ErrEmptyMessageBody = errors.New("message body cannot be empty")
	// ErrNoAudioAttachment indicates transcription was requested without audio.
	ErrNoAudioAttachment = errors.New("message has no audio attachment")
)

// MediaRef describes one attachment on an inbound message. URL points at the
// provider's media store; DataURL is populated once the bytes have been
// fetched and inlined as a base64 data URL.
type MediaRef struct {
	ContentType string `json:"content_type"`
	URL         string `json:"url,omitempty"`
	DataURL     string `json:"data_url,omitempty"`
}

// IsAudio reports whether the attachment is audio content.
func (m MediaRef) IsAudio() bool {
	return strings.HasPrefix(m.ContentType, MediaPrefixAudio)
}

// IsImage reports whether the attachment is image content.
func (m MediaRef) IsImage() bool {
	return strings.HasPrefix(m.ContentType, MediaPrefixImage)
}

// InboundMessage is the normalized form of a provider webhook payload. It is
// constructed once at ingress and never mutated; transcription results are
// merged into WorkflowState.Body, not back into the message.
type InboundMessage struct {
	Body        string     `json:"body"`
	Sender      string     `json:"sender"`
	Attachments []MediaRef `json:"attachments,omitempty"`
}

// FirstAudio returns the first audio attachment, or nil if there is none.
// Only the first audio attachment is ever transcribed; later ones in the
// same message are ignored.
func (m *InboundMessage) FirstAudio() *MediaRef {
	for i := range m.Attachments {
		if m.Attachments[i].IsAudio() {
			return &m.Attachments[i]
		}
	}
	return nil
}

// Images returns all image attachments in order.
func (m *InboundMessage) Images() []MediaRef {
	var imgs []MediaRef
	for _, a := range m.Attachments {
		if a.IsImage() {
			imgs = append(imgs, a)
		}
	}
	return imgs
}

// MealRecord is a structured nutrition breakdown extracted from a meal
// description. ID is assigned by the store on successful save; the record is
// otherwise immutable after extraction.
type MealRecord struct {
	ID           string    `json:"id,omitempty"`
	Sender       string    `json:"sender"`
	Name         string    `json:"meal_name"`
	Description  string    `json:"meal_description"`
	Calories     int       `json:"meal_calories"`
	ProteinGrams int       `json:"meal_protein"`
	CarbGrams    int       `json:"meal_carbs"`
	FatGrams     int       `json:"meal_fat"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// MealTotals sums the nutrient fields over a set of records.
type MealTotals struct {
	Calories     int `json:"total_calories"`
	ProteinGrams int `json:"total_protein"`
	CarbGrams    int `json:"total_carbs"`
	FatGrams     int `json:"total_fat"`
}

// SumMeals computes nutrient totals over records.
func SumMeals(records []MealRecord) MealTotals {
	var t MealTotals
	for _, r := range records {
		t.Calories += r.Calories
		t.ProteinGrams += r.ProteinGrams
		t.CarbGrams += r.CarbGrams
		t.FatGrams += r.FatGrams
	}
	return t
}

// WorkflowState is the single mutable object threaded through the controller
// for the lifetime of one inbound message. Exactly one WorkflowState exists
// per in-flight request; it is never shared across requests.
type WorkflowState struct {
	Message InboundMessage
	// Body starts as Message.Body and absorbs audio transcripts.
	Body string
	// Current is the controller's position in the state machine.
	Current WorkflowStateType
	Intent  Intent
	Record  *MealRecord
	// Response, once non-empty, short-circuits all remaining stages.
	Response string
	// DBOperationStatus is "success" or "error:<reason>" after a save attempt.
	DBOperationStatus string
	// ImageDataURLs caches image attachments resolved to data URLs so the
	// routing and extraction stages fetch each image at most once.
	ImageDataURLs  []string
	ImagesResolved bool
}

// NewWorkflowState creates the initial state for one inbound message.
func NewWorkflowState(msg InboundMessage) *WorkflowState {
	return &WorkflowState{Message: msg, Body: msg.Body, Current: StateStart}
}

// MarkDBError records a persistence failure without raising it.
func (s *WorkflowState) MarkDBError(reason error) {
	s.DBOperationStatus = DBStatusErrorPrefix + reason.Error()
}

// StateSnapshot is the write-only audit row persisted after a request
// terminates. It is never read back by the controller.
type StateSnapshot struct {
	ID         string    `json:"id,omitempty"`
	Sender     string    `json:"sender"`
	Body       string    `json:"body"`
	NumMedia   int       `json:"num_media"`
	Intent     string    `json:"intent"`
	Response   string    `json:"response"`
	DBStatus   string    `json:"db_status"`
	FinalState string    `json:"final_state"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Response represents an inbound message as seen by a messaging transport.
// Transports that receive messages themselves (whatsmeow) emit these on a
// channel; the Twilio transport receives them via webhook instead.
type Response struct {
	From        string     `json:"from"`
	Body        string     `json:"body"`
	Attachments []MediaRef `json:"attachments,omitempty"`
	Time        int64      `json:"time"`
}

// Validate checks the minimal invariants on an inbound response.
func (r Response) Validate() error {
	if r.From == "" {
		return fmt.Errorf("response sender cannot be empty")
	}
	return nil
}
