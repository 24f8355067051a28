// Package handler exposes conversation ingestion and retrieval over HTTP.
package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/conversation"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/logger"
)

// Config holds request limits and defaults.
type Config struct {
	MaxUploadBytes int64
	DefaultModel   string
}

type Handler struct {
	provider ingestion.Provider
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

func New(provider ingestion.Provider, cfg Config) *Handler {
	return &Handler{
		provider: provider,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default().With("component", "conversation-handler"),
	}
}

// IngestResponse is returned for a stored conversation.
type IngestResponse struct {
	URL string `json:"url"`
}

// ListResponse wraps a listing page.
type ListResponse struct {
	Conversations []conversation.Record `json:"conversations"`
}

// Ingest handles POST /api/conversation.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	receivedAt := h.now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	}
	upload, err := validator.ParseUpload(r, h.cfg.DefaultModel)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		log.Warn("rejected conversation upload", "error", err)
		h.writeAppError(w, err)
		return
	}

	svc, err := h.provider.Services(ctx)
	if err != nil {
		log.Error("service initialization failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, apperrors.GenericMessage)
		return
	}

	result, err := svc.Pipeline.Ingest(ctx, ingestion.Request{
		Raw:        upload.Raw,
		Model:      upload.Model,
		Structured: upload.Structured,
		ReceivedAt: receivedAt,
		RequestID:  logger.RequestID(ctx),
	})
	if err != nil {
		// Details were logged by the pipeline.
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, IngestResponse{URL: result.URL})
}

// List handles GET /api/conversation.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	page, err := validator.ParsePage(r.URL.Query())
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	svc, err := h.provider.Services(ctx)
	if err != nil {
		log.Error("service initialization failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, apperrors.GenericMessage)
		return
	}

	records, err := svc.Conversations.List(ctx, page.Limit, page.Offset)
	if err != nil {
		log.Error("listing conversations failed",
			"limit", page.Limit,
			"offset", page.Offset,
			"error", err,
		)
		h.writeAppError(w, err)
		return
	}
	if records == nil {
		records = []conversation.Record{}
	}
	h.writeJSON(w, http.StatusOK, ListResponse{Conversations: records})
}

// Get handles GET /api/conversation/{id}: the record with its content. Each
// successful fetch counts one view.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	id := r.PathValue("id")

	if err := validator.ValidateID(id); err != nil {
		h.writeAppError(w, err)
		return
	}

	svc, err := h.provider.Services(ctx)
	if err != nil {
		log.Error("service initialization failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, apperrors.GenericMessage)
		return
	}

	rec, err := svc.Conversations.Get(ctx, id)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrNotFound) {
			log.Error("loading conversation failed", "conversation_id", id, "error", err)
		}
		h.writeAppError(w, err)
		return
	}
	content, err := svc.Blobs.Read(ctx, rec.ContentKey)
	if err != nil {
		// A record whose blob is gone is our fault, not a missing resource.
		err = fmt.Errorf("%w: content for %s: %v", apperrors.ErrStorage, id, err)
		log.Error("reading conversation content failed", "conversation_id", id, "content_key", rec.ContentKey, "error", err)
		h.writeAppError(w, err)
		return
	}
	updated, err := svc.Conversations.IncrementViews(ctx, id)
	if err != nil {
		log.Error("incrementing views failed", "conversation_id", id, "error", err)
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, conversation.View{Record: *updated, Content: string(content)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps err to its status and client-safe message.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := apperrors.PublicMessage(err)
	if status == http.StatusNotFound {
		message = "conversation not found"
	}
	h.writeError(w, status, message)
}
