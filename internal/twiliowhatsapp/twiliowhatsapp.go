// Package twiliowhatsapp wraps the Twilio API for WhatsApp integration in NutriTrack.
package twiliowhatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// MediaFetchTimeout bounds a single download from Twilio's media store.
const MediaFetchTimeout = 30 * time.Second

// TwilioWhatsAppSender sends outbound WhatsApp messages through Twilio.
type TwilioWhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// MediaFetcher downloads webhook media attachments and returns them as
// base64 data URLs ready for model consumption.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, url string) (contentType string, dataURL string, err error)
	FetchMediaBytes(ctx context.Context, url string) (contentType string, data []byte, err error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number ("whatsapp:+1234567890").
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps the Twilio REST API for WhatsApp sends and authenticated
// media downloads.
type Client struct {
	client     *twilio.RestClient
	httpClient *http.Client
	accountSID string
	authToken  string
	fromWhats  string
}

// NewClient creates a Twilio client from options, falling back to the
// TWILIO_ACCOUNT_SID / TWILIO_AUTH_TOKEN / TWILIO_FROM_NUMBER environment
// variables.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"account_sid_set", cfg.AccountSID != "",
		"auth_token_set", cfg.AuthToken != "",
		"from_whats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:     client,
		httpClient: &http.Client{Timeout: MediaFetchTimeout},
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromWhats:  cfg.FromWhats,
	}, nil
}

// SendMessage sends a WhatsApp message using the Twilio API.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	_, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// FetchMediaBytes downloads one attachment from Twilio's media store. The
// Twilio SDK does not expose media content download, so this uses a plain
// HTTP GET with Basic Auth credentials.
func (c *Client) FetchMediaBytes(ctx context.Context, url string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build media request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Twilio FetchMediaBytes request failed", "url", url, "error", err)
		return "", nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("Twilio FetchMediaBytes unexpected status", "url", url, "status", resp.StatusCode)
		return "", nil, fmt.Errorf("media fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read media body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	slog.Debug("Twilio media fetched", "url", url, "content_type", contentType, "bytes", len(data))
	return contentType, data, nil
}

// FetchMedia downloads one attachment and inlines it as a
// data:<type>;base64,<payload> URL.
func (c *Client) FetchMedia(ctx context.Context, url string) (string, string, error) {
	contentType, data, err := c.FetchMediaBytes(ctx, url)
	if err != nil {
		return "", "", err
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
	return contentType, dataURL, nil
}

// MockClient records outbound sends and serves canned media for tests.
type MockClient struct {
	SentMessages []SentMessage
	SendErr      error
	MediaType    string
	MediaData    []byte
	MediaErr     error
}

// SentMessage is one recorded outbound message.
type SentMessage struct {
	To   string
	Body string
}

// NewMockClient creates an empty mock client.
func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) FetchMediaBytes(ctx context.Context, url string) (string, []byte, error) {
	if m.MediaErr != nil {
		return "", nil, m.MediaErr
	}
	return m.MediaType, m.MediaData, nil
}

func (m *MockClient) FetchMedia(ctx context.Context, url string) (string, string, error) {
	contentType, data, err := m.FetchMediaBytes(ctx, url)
	if err != nil {
		return "", "", err
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
	return contentType, dataURL, nil
}
