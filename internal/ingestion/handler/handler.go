// Package handler serves the ingestion HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/metrics"
)

const maxBodyBytes = 16 << 20

type Handler struct {
	publisher *publisher.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(pub *publisher.Publisher, m *metrics.Metrics) *Handler {
	return &Handler{
		publisher: pub,
		metrics:   m,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

// Register adds the content routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/content", h.Submit)
	mux.HandleFunc("POST /api/v1/content/bulk", h.SubmitBulk)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var in ingestion.ContentInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		h.reject(w, "single", "invalid JSON body", nil)
		return
	}
	if err := validator.ValidateContent(&in); err != nil {
		h.reject(w, "single", "validation failed", err)
		return
	}

	item, err := h.publisher.Submit(ctx, in, caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	log.Info("content queued", "title", item.Title, "user", item.User)
	h.writeJSON(w, http.StatusAccepted, ingestion.Ack{Message: ingestion.MessageQueued})
}

func (h *Handler) SubmitBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var in []ingestion.ContentInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		h.reject(w, "bulk", "invalid JSON body", nil)
		return
	}
	if err := validator.ValidateBulk(in); err != nil {
		h.reject(w, "bulk", "validation failed", err)
		return
	}

	items, err := h.publisher.SubmitBulk(ctx, in, caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	log.Info("bulk content queued", "count", len(items), "user", caller(r))
	h.writeJSON(w, http.StatusAccepted, ingestion.Ack{Message: ingestion.MessageQueuedBulk})
}

func caller(r *http.Request) string {
	id, _ := auth.FromContext(r.Context())
	return id.Subject
}

func (h *Handler) reject(w http.ResponseWriter, mode, message string, err error) {
	h.metrics.ContentSubmittedTotal.WithLabelValues(mode, "rejected").Inc()
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  message,
			"fields": verr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, message)
}

// fail answers with the error's status and a fixed message; the cause is
// only logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	logger.FromContext(r.Context()).Error("submission failed", "error", err, "status_code", status)
	message := "internal error"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	h.writeError(w, status, message)
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
