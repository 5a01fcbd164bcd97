// Package handlers provides HTTP handlers for the portfolio value series.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/domain"
	"github.com/aristath/folio/internal/modules/snapshots"
	"github.com/aristath/folio/internal/work"
)

// SeriesReader renders a user's series for a period
type SeriesReader interface {
	GetSnapshotSeries(ctx context.Context, userID int64, period string) (*snapshots.Series, error)
}

// Handler handles snapshot HTTP requests. Routes are mounted under a path that
// carries a {userID} parameter.
type Handler struct {
	series SeriesReader
	work   work.EnqueuerInterface
	log    zerolog.Logger
}

// NewHandler creates a new snapshot handler
func NewHandler(series SeriesReader, enqueuer work.EnqueuerInterface, log zerolog.Logger) *Handler {
	return &Handler{
		series: series,
		work:   enqueuer,
		log:    log.With().Str("handler", "snapshots").Logger(),
	}
}

// QueuedResponse acknowledges background work
type QueuedResponse struct {
	Status   string `json:"status"`
	WorkType string `json:"work_type"`
	Subject  string `json:"subject"`
	From     string `json:"from,omitempty"`
}

type recomputeRequest struct {
	FromDate string `json:"from_date"`
}

// HandleGetSeries handles GET .../snapshots?period=1Y
func (h *Handler) HandleGetSeries(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	series, err := h.series.GetSnapshotSeries(r.Context(), userID, r.URL.Query().Get("period"))
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("Failed to load series")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// HandleRecompute handles POST .../recompute {"from_date": "YYYY-MM-DD"}.
// Without a from_date the whole history is rebuilt.
func (h *Handler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req recomputeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var from time.Time
	if req.FromDate != "" {
		d, err := domain.ParseDate(req.FromDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		from = d
	}

	h.enqueue(w, work.TypeSnapshotRecompute, userID, from)
}

// HandleReconcile handles POST .../reconcile
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	h.enqueue(w, work.TypeSnapshotReconcile, userID, time.Time{})
}

func (h *Handler) enqueue(w http.ResponseWriter, typeID string, userID int64, from time.Time) {
	subject := work.UserSubject(userID)

	status := "queued"
	err := h.work.Enqueue(typeID, subject, from)
	switch {
	case err == nil:
	case errors.Is(err, work.ErrAlreadyRunning):
		// Held as a follow-up of the running item
		status = "deferred"
	case errors.Is(err, work.ErrQueueFull), errors.Is(err, work.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		h.log.Error().Err(err).Str("work", typeID).Int64("user_id", userID).Msg("Failed to enqueue")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := QueuedResponse{Status: status, WorkType: typeID, Subject: subject}
	if !from.IsZero() {
		resp.From = domain.FormatDate(from)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
