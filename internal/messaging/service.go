// Package messaging provides the pluggable message transport abstraction for
// NutriTrack. Two transports exist: Twilio (webhook-driven inbound, REST
// outbound) and direct WhatsApp via whatsmeow (event-driven inbound).
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/BTreeMap/NutriTrack/internal/models"
)

// Channel configuration constants.
const (
	// DefaultChannelBufferSize defines the buffer size for response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel emits.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped indicates an operation was attempted after Stop.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex matches everything that is not a digit; canonicalization
// strips these characters.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Each transport implements its own rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming user messages. Transports that
	// receive inbound traffic out-of-band (Twilio webhooks) leave it idle.
	Responses() <-chan models.Response
}

// CanonicalizePhoneNumber strips non-digit characters and enforces the
// minimum length shared by both transports.
func CanonicalizePhoneNumber(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" || len(canonical) < models.MinPhoneNumberDigits {
		return "", models.ErrInvalidPhoneNumber
	}
	return canonical, nil
}
