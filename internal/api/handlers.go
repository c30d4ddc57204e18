package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BTreeMap/NutriTrack/internal/models"
	"github.com/BTreeMap/NutriTrack/internal/profile"
	"github.com/BTreeMap/NutriTrack/internal/util"
)

// maxWebhookMedia caps how many attachments are parsed from a single webhook
// payload, independent of what NumMedia claims.
const maxWebhookMedia = 10

// webhookHandler handles inbound Twilio WhatsApp webhooks (POST /webhook).
// Every parseable message produces exactly one outbound reply; unparsable
// payloads are rejected without sending anything.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	reqID := util.GenerateRequestID()
	slog.Debug("Server.webhookHandler: processing webhook", "method", r.Method, "path", r.URL.Path, "request_id", reqID)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method, "request_id", reqID)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.webhookHandler: failed to parse form payload", "error", err, "request_id", reqID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid webhook payload"))
		return
	}

	from := r.FormValue("From")
	if from == "" {
		slog.Warn("Server.webhookHandler: missing From field", "request_id", reqID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: From"))
		return
	}

	sender, err := s.msgService.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Server.webhookHandler: sender validation failed", "error", err, "original_from", from, "request_id", reqID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	msg := models.InboundMessage{
		Body:        r.FormValue("Body"),
		Sender:      sender,
		Attachments: parseMediaAttachments(r),
	}
	slog.Debug("Server.webhookHandler: parsed inbound message",
		"sender", sender, "body_length", len(msg.Body), "attachments", len(msg.Attachments), "request_id", reqID)

	state := s.controller.Process(r.Context(), msg)

	if err := s.msgService.SendMessage(r.Context(), sender, state.Response); err != nil {
		slog.Error("Server.webhookHandler: failed to send reply", "error", err, "to", sender, "request_id", reqID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send reply"))
		return
	}

	slog.Info("Server.webhookHandler: reply sent", "to", sender, "intent", state.Intent, "db_status", state.DBOperationStatus, "request_id", reqID)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// parseMediaAttachments extracts MediaContentType{i}/MediaUrl{i} pairs from a
// Twilio webhook form. Pairs with a missing content type or URL are skipped.
func parseMediaAttachments(r *http.Request) []models.MediaRef {
	numMedia, err := strconv.Atoi(r.FormValue("NumMedia"))
	if err != nil || numMedia <= 0 {
		return nil
	}
	if numMedia > maxWebhookMedia {
		slog.Warn("parseMediaAttachments: truncating media list", "claimed", numMedia, "max", maxWebhookMedia)
		numMedia = maxWebhookMedia
	}

	var attachments []models.MediaRef
	for i := 0; i < numMedia; i++ {
		contentType := r.FormValue(fmt.Sprintf("MediaContentType%d", i))
		url := r.FormValue(fmt.Sprintf("MediaUrl%d", i))
		if contentType == "" || url == "" {
			continue
		}
		attachments = append(attachments, models.MediaRef{ContentType: contentType, URL: url})
	}
	return attachments
}

// profileUpdateRequest is the JSON payload for POST /profile.
type profileUpdateRequest struct {
	Sender  string            `json:"sender"`
	Updates map[string]string `json:"updates"`
}

// profileHandler updates a user profile (POST /profile). Updates are applied
// through the whitelisted field setters; an unknown field or a failed
// validation rejects the whole request and nothing is persisted.
func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.profileHandler: processing profile update", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.profileHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.profileHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.Updates) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: updates"))
		return
	}

	sender, err := s.msgService.ValidateAndCanonicalizeRecipient(req.Sender)
	if err != nil {
		slog.Warn("Server.profileHandler: sender validation failed", "error", err, "original_sender", req.Sender)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	existing, err := s.st.GetUserProfile(sender)
	if err != nil {
		slog.Error("Server.profileHandler: failed to load profile", "error", err, "sender", sender)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load profile"))
		return
	}
	p := models.UserProfile{Sender: sender}
	if existing != nil {
		p = *existing
	}

	if err := profile.ApplyUpdates(&p, req.Updates); err != nil {
		slog.Warn("Server.profileHandler: update rejected", "error", err, "sender", sender, "known_fields", strings.Join(profile.KnownFields(), ","))
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.st.SaveUserProfile(p); err != nil {
		slog.Error("Server.profileHandler: failed to save profile", "error", err, "sender", sender)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save profile"))
		return
	}

	slog.Info("Server.profileHandler: profile updated", "sender", sender, "fields", len(req.Updates))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Profile updated", nil))
}

// healthHandler reports service liveness (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("NutriTrack is healthy", nil))
}

// statsHandler reports basic service counters (GET /stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statsHandler: processing stats request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.statsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	count, err := s.st.CountMealRecords()
	if err != nil {
		slog.Error("Server.statsHandler: failed to count meal records", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch stats"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"meal_records": count,
	}))
}
