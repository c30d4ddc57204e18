// Package api provides the HTTP server and main service wiring for NutriTrack.
//
// It exposes the Twilio webhook endpoint that drives the nutrition workflow,
// plus health and stats endpoints. Run assembles the store, GenAI client,
// messaging transport, and workflow controller from their option lists and
// serves until the context is cancelled.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/NutriTrack/internal/flow"
	"github.com/BTreeMap/NutriTrack/internal/genai"
	"github.com/BTreeMap/NutriTrack/internal/messaging"
	"github.com/BTreeMap/NutriTrack/internal/models"
	"github.com/BTreeMap/NutriTrack/internal/store"
	"github.com/BTreeMap/NutriTrack/internal/twiliowhatsapp"
	"github.com/BTreeMap/NutriTrack/internal/whatsapp"
)

// Server and transport defaults.
const (
	// DefaultAddr is the default API server listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	// TransportTwilio selects the Twilio webhook transport.
	TransportTwilio = "twilio"
	// TransportWhatsApp selects the direct whatsmeow transport.
	TransportWhatsApp = "whatsapp"
)

// Opts holds configuration options for the API server.
type Opts struct {
	addr      string
	transport string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.addr = addr }
}

// WithTransport selects the messaging transport ("twilio" or "whatsapp").
func WithTransport(transport string) Option {
	return func(o *Opts) { o.transport = transport }
}

// Server handles HTTP requests and threads inbound messages through the
// workflow controller.
type Server struct {
	msgService messaging.Service
	st         store.Store
	controller *flow.Controller
}

// NewServer creates an API server with its collaborators.
func NewServer(msgService messaging.Service, st store.Store, controller *flow.Controller) *Server {
	slog.Debug("api.NewServer: creating server", "has_messaging", msgService != nil, "has_store", st != nil, "has_controller", controller != nil)
	return &Server{msgService: msgService, st: st, controller: controller}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/profile", s.profileHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	return mux
}

// Run assembles all modules from their options and serves HTTP until ctx is
// cancelled. It blocks for the lifetime of the service.
func Run(ctx context.Context, storeOpts []store.Option, genaiOpts []genai.Option, twilioOpts []twiliowhatsapp.Option, waOpts []whatsapp.Option, apiOpts []Option) error {
	opts := Opts{addr: DefaultAddr, transport: TransportTwilio}
	for _, opt := range apiOpts {
		opt(&opts)
	}
	slog.Debug("api.Run: options applied", "addr", opts.addr, "transport", opts.transport)

	st, err := store.NewStore(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Error("api.Run: failed to close store", "error", cerr)
		}
	}()

	ga, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize GenAI client: %w", err)
	}

	// The Twilio client doubles as the media fetcher for webhook attachments.
	// Under the whatsmeow transport there are no Twilio media URLs, so a
	// missing Twilio configuration is only fatal in Twilio mode.
	twilioClient, twilioErr := twiliowhatsapp.NewClient(twilioOpts...)
	var media twiliowhatsapp.MediaFetcher
	if twilioErr == nil {
		media = twilioClient
	}

	var msgService messaging.Service
	switch opts.transport {
	case TransportTwilio:
		if twilioErr != nil {
			return fmt.Errorf("failed to initialize Twilio client: %w", twilioErr)
		}
		msgService = messaging.NewTwilioService(twilioClient)
	case TransportWhatsApp:
		waClient, werr := whatsapp.NewClient(waOpts...)
		if werr != nil {
			return fmt.Errorf("failed to initialize WhatsApp client: %w", werr)
		}
		msgService = messaging.NewWhatsAppService(waClient)
	default:
		return fmt.Errorf("unknown messaging transport %q", opts.transport)
	}

	controller := flow.NewController(ga, st, media)
	server := NewServer(msgService, st, controller)

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer func() {
		if serr := msgService.Stop(); serr != nil {
			slog.Error("api.Run: failed to stop messaging service", "error", serr)
		}
	}()

	// Inbound messages from transports that push (whatsmeow) flow through the
	// same controller as webhook traffic.
	go server.consumeResponses(ctx)

	httpServer := &http.Server{
		Addr:    opts.addr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Run: NutriTrack API listening", "addr", opts.addr, "transport", opts.transport)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("api.Run: shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down HTTP server: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	}
}

// consumeResponses drains the transport's inbound channel, running each
// message through the workflow and replying on the same transport.
func (s *Server) consumeResponses(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-s.msgService.Responses():
			if !ok {
				return
			}
			if err := resp.Validate(); err != nil {
				slog.Warn("Server.consumeResponses: dropping invalid inbound message", "error", err)
				continue
			}
			// Same sender keyspace as the webhook path: digits only, no
			// "+" prefix, so one user's records line up across transports.
			sender, err := s.msgService.ValidateAndCanonicalizeRecipient(resp.From)
			if err != nil {
				slog.Warn("Server.consumeResponses: dropping message with invalid sender", "error", err, "from", resp.From)
				continue
			}
			msg := models.InboundMessage{
				Body:        resp.Body,
				Sender:      sender,
				Attachments: resp.Attachments,
			}
			state := s.controller.Process(ctx, msg)
			if err := s.msgService.SendMessage(ctx, sender, state.Response); err != nil {
				slog.Error("Server.consumeResponses: failed to send reply", "error", err, "to", sender)
			}
		}
	}
}
