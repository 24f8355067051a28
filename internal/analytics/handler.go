package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/logger"
)

// SnapshotLister returns persisted snapshots, newest first.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, limit int) ([]AggregatedStats, error)
}

// ModelStats is the per-model view served for ?model=.
type ModelStats struct {
	Model    string  `json:"model"`
	Ingested int64   `json:"ingested"`
	Share    float64 `json:"share_of_succeeded"`
}

// Handler serves the aggregated ingestion stats and, when a snapshot store is
// configured, their persisted history.
type Handler struct {
	aggregator *Aggregator
	snapshots  SnapshotLister
}

// NewHandler creates a Handler. snapshots may be nil.
func NewHandler(aggregator *Aggregator, snapshots SnapshotLister) *Handler {
	return &Handler{aggregator: aggregator, snapshots: snapshots}
}

// Stats serves the running totals, or one model's count with ?model=.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if model := r.URL.Query().Get("model"); model != "" {
		count, ok := h.aggregator.ModelCount(model)
		if !ok {
			writeJSON(w, r, http.StatusNotFound, map[string]string{"error": "no ingestions recorded for model " + strconv.Quote(model)})
			return
		}
		stats := ModelStats{Model: model, Ingested: count}
		if total := h.aggregator.Stats().Succeeded; total > 0 {
			stats.Share = float64(count) / float64(total)
		}
		writeJSON(w, r, http.StatusOK, stats)
		return
	}
	writeJSON(w, r, http.StatusOK, h.aggregator.Stats())
}

// Snapshots serves the most recent persisted snapshots, ?limit= in [1,100],
// default 10.
func (h *Handler) Snapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		writeJSON(w, r, http.StatusNotFound, map[string]string{"error": "snapshots are disabled"})
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}
	list, err := h.snapshots.ListSnapshots(r.Context(), limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("listing snapshots failed", "error", err)
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": apperrors.GenericMessage})
		return
	}
	if list == nil {
		list = []AggregatedStats{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"snapshots": list})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context()).Error("failed to write analytics response", "error", err)
	}
}
