package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/NutriTrack/internal/models"
	"github.com/BTreeMap/NutriTrack/internal/twiliowhatsapp"
	"github.com/BTreeMap/NutriTrack/internal/whatsapp"
)

// Compile-time interface checks.
var (
	_ Service = (*TwilioService)(nil)
	_ Service = (*WhatsAppService)(nil)
)

func TestCanonicalizePhoneNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"whatsapp:+14155551234", "14155551234", false},
		{"+1 (415) 555-1234", "14155551234", false},
		{"14155551234", "14155551234", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true}, // below minimum digits
	}
	for _, c := range cases {
		got, err := CanonicalizePhoneNumber(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("CanonicalizePhoneNumber(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("CanonicalizePhoneNumber(%q) returned error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("CanonicalizePhoneNumber(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTwilioServiceSendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "whatsapp:+14155551234", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "14155551234" {
		t.Errorf("recipient not canonicalized: %q", mock.SentMessages[0].To)
	}
}

func TestTwilioServiceSendMessageValidation(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	if err := svc.SendMessage(context.Background(), "", "hello"); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("expected ErrEmptyRecipient, got %v", err)
	}
	if err := svc.SendMessage(context.Background(), "14155551234", ""); !errors.Is(err, models.ErrEmptyMessageBody) {
		t.Errorf("expected ErrEmptyMessageBody, got %v", err)
	}
}

func TestTwilioServiceStopped(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "14155551234", "hello"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Stop must be idempotent.
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop returned error: %v", err)
	}
}

func TestWhatsAppServiceSendMessage(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)

	if err := svc.SendMessage(context.Background(), "+1 415 555 1234", "hi"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "14155551234" {
		t.Errorf("sent messages = %+v", mock.SentMessages)
	}
}
