package twiliowhatsapp

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// Compile-time interface checks.
var (
	_ TwilioWhatsAppSender = (*Client)(nil)
	_ TwilioWhatsAppSender = (*MockClient)(nil)
	_ MediaFetcher         = (*Client)(nil)
	_ MediaFetcher         = (*MockClient)(nil)
)

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error with no credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Error("expected error with no from number")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("whatsapp:+15550000000")); err != nil {
		t.Errorf("expected success with full credentials, got %v", err)
	}
}

func TestNewClientEnvFallback(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC456")
	t.Setenv("TWILIO_AUTH_TOKEN", "envtok")
	t.Setenv("TWILIO_FROM_NUMBER", "whatsapp:+15551111111")

	c, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient with env credentials failed: %v", err)
	}
	if c.fromWhats != "whatsapp:+15551111111" {
		t.Errorf("fromWhats = %q", c.fromWhats)
	}
}

func TestFetchMediaUsesBasicAuthAndBuildsDataURL(t *testing.T) {
	payload := []byte("fake-jpeg-bytes")
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(payload)
	}))
	defer srv.Close()

	c := &Client{
		httpClient: srv.Client(),
		accountSID: "AC123",
		authToken:  "tok",
	}
	contentType, dataURL, err := c.FetchMedia(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchMedia returned error: %v", err)
	}
	if contentType != "image/jpeg" {
		t.Errorf("contentType = %q", contentType)
	}
	wantPrefix := "data:image/jpeg;base64,"
	if !strings.HasPrefix(dataURL, wantPrefix) {
		t.Fatalf("dataURL = %q, want prefix %q", dataURL, wantPrefix)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, wantPrefix))
	if err != nil || string(decoded) != string(payload) {
		t.Errorf("payload did not round-trip through data URL: %v", err)
	}
	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Errorf("expected Basic auth header, got %q", gotAuth)
	}
}

func TestFetchMediaNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := &Client{httpClient: srv.Client(), accountSID: "AC", authToken: "t"}
	if _, _, err := c.FetchMedia(context.Background(), srv.URL); err == nil {
		t.Error("expected error on 404 response")
	}
}

func TestMockClientRecordsSends(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "+15551234567", "hello"); err != nil {
		t.Fatalf("mock send failed: %v", err)
	}
	if len(m.SentMessages) != 1 || m.SentMessages[0].Body != "hello" {
		t.Errorf("sent messages = %+v", m.SentMessages)
	}
}
