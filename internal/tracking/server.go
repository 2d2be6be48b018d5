// internal/tracking/server.go
package tracking

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/common/metrics"
	"nurture-engine/internal/common/validation"
	"nurture-engine/internal/models"
)

// pixelGIF is a 1x1 transparent GIF, served for every /track hit so broken
// bindings never render as broken images in mail clients.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, // GIF89a
	0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF,
	0x21, 0xF9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00,
	0x2C, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
	0x02, 0x02, 0x44, 0x01, 0x00,
	0x3B,
}

func intPtr(v int) *int { return &v }

var pixelRequestSchema = validation.JSONSchema{
	Type: "object",
	Properties: map[string]validation.Property{
		"lead_id": {Type: "string", MinLength: intPtr(1)},
		"ref":     {Type: "string"},
	},
	Required: []string{"lead_id"},
}

var eventRequestSchema = validation.JSONSchema{
	Type: "object",
	Properties: map[string]validation.Property{
		"lead_id": {Type: "string", MinLength: intPtr(1)},
		"kind": {Type: "string", Enum: []string{
			string(models.ActionOpened),
			string(models.ActionReplied),
			string(models.ActionMeetingScheduled),
			string(models.ActionFormSubmitted),
			string(models.ActionUnsubscribed),
		}},
		"channel": {Type: "string", Enum: []string{
			string(models.ChannelEmail),
			string(models.ChannelSlack),
			string(models.ChannelLog),
		}},
		"content": {Type: "string"},
	},
	Required: []string{"lead_id", "kind"},
}

// EventRecorder accepts webhook-driven engagement events. Satisfied by the
// engagement tracker.
type EventRecorder interface {
	Record(ctx context.Context, event *models.InteractionEvent)
}

// Unsubscriber flips the lead's unsubscribe flag when an unsubscribe webhook
// arrives.
type Unsubscriber interface {
	SetUnsubscribed(ctx context.Context, id string, unsubscribed bool) error
}

// Server is the public HTTP surface for pixel hits and engagement webhooks.
type Server struct {
	pixels   *PixelService
	recorder EventRecorder
	leads    Unsubscriber
	logger   logger.Logger
	http     *http.Server
}

func NewServer(addr string, pixels *PixelService, recorder EventRecorder, leads Unsubscriber, log logger.Logger) *Server {
	s := &Server{
		pixels:   pixels,
		recorder: recorder,
		leads:    leads,
		logger:   log,
	}

	r := chi.NewRouter()
	r.Post("/pixels", s.handleIssuePixel)
	r.Get("/track/{pixelID}", s.handleTrack)
	r.Post("/events", s.handleEvent)
	r.Get("/healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	s.logger.Info("tracking server listening", map[string]interface{}{
		"addr": s.http.Addr,
	})
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleIssuePixel(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if result := validation.ValidateInput(body, pixelRequestSchema); !result.Valid {
		s.writeValidationErrors(w, result)
		return
	}

	leadID, _ := body["lead_id"].(string)
	ref, _ := body["ref"].(string)

	url, err := s.pixels.Issue(r.Context(), leadID, ref)
	if err != nil {
		s.logger.Error("pixel issue failed", map[string]interface{}{
			"leadId": leadID,
			"error":  err.Error(),
		})
		http.Error(w, "failed to issue pixel", http.StatusInternalServerError)
		return
	}

	pixelID := url[strings.LastIndex(url, "/")+1:]
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"pixel_id": pixelID,
		"url":      url,
	})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	pixelID := chi.URLParam(r, "pixelID")

	binding, first, err := s.pixels.Open(r.Context(), pixelID)
	if err != nil {
		s.logger.Warn("pixel lookup failed", map[string]interface{}{
			"pixelId": pixelID,
			"error":   err.Error(),
		})
	}

	if binding != nil && first {
		s.recorder.Record(r.Context(), &models.InteractionEvent{
			LeadID:    binding.LeadID,
			Kind:      models.ActionOpened,
			Channel:   models.ChannelEmail,
			Content:   binding.Ref,
			Timestamp: time.Now().UTC(),
			Success:   true,
		})
		metrics.PixelOpens.Inc()
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelGIF)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if result := validation.ValidateInput(body, eventRequestSchema); !result.Valid {
		s.writeValidationErrors(w, result)
		return
	}

	leadID, _ := body["lead_id"].(string)
	kind, _ := body["kind"].(string)
	channel, _ := body["channel"].(string)
	content, _ := body["content"].(string)

	event := &models.InteractionEvent{
		LeadID:    leadID,
		Kind:      models.ActionKind(kind),
		Channel:   models.Channel(channel),
		Content:   content,
		Timestamp: time.Now().UTC(),
		Success:   true,
	}
	s.recorder.Record(r.Context(), event)

	if event.Kind == models.ActionUnsubscribed && s.leads != nil {
		if err := s.leads.SetUnsubscribed(r.Context(), leadID, true); err != nil {
			s.logger.Error("failed to flag unsubscribe", map[string]interface{}{
				"leadId": leadID,
				"error":  err.Error(),
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "recorded"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) writeValidationErrors(w http.ResponseWriter, result *validation.ValidationResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"errors": result.GetErrorMessages(),
	})
}
