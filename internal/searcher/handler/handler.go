// Package handler serves the query HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/searcher/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/logger"
)

// CacheHeader reports whether a response was served from cache.
const CacheHeader = "X-Cache"

type QueryService interface {
	List(ctx context.Context) (query.Result, error)
	Search(ctx context.Context, term, startDate, endDate string) (query.Result, error)
}

type Handler struct {
	service QueryService
	cache   *cache.QueryCache
	logger  *slog.Logger
}

// New creates a Handler. qc is only used for the cache admin routes and may
// be nil.
func New(service QueryService, qc *cache.QueryCache) *Handler {
	return &Handler{
		service: service,
		cache:   qc,
		logger:  slog.Default().With("component", "query-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/content", h.List)
	mux.HandleFunc("GET /api/v1/search/{term}", h.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("DELETE /api/v1/cache", h.CacheInvalidate)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeResult(w, result)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	if term == "" {
		h.writeError(w, http.StatusBadRequest, "search term is required")
		return
	}
	params := r.URL.Query()
	result, err := h.service.Search(r.Context(), term, params.Get("start_date"), params.Get("end_date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("search completed",
		"term", term,
		"returned", len(result.Summaries),
		"cache_hit", result.CacheHit,
	)
	h.writeResult(w, result)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	stats := h.cache.Stats()
	total := stats.Hits + stats.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":           stats.Hits,
		"misses":         stats.Misses,
		"total":          total,
		"hit_rate":       fmt.Sprintf("%.1f%%", hitRate),
		"backend_errors": stats.BackendErrors,
		"local_entries":  stats.LocalEntries,
		"shared_backend": stats.SharedBackend,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeResult(w http.ResponseWriter, result query.Result) {
	status := "miss"
	if result.CacheHit {
		status = "hit"
	}
	w.Header().Set(CacheHeader, status)
	h.writeJSON(w, http.StatusOK, result.Summaries)
}

// fail maps err to a status. Only invalid-input messages reach the client;
// everything else gets a fixed message and the cause is logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if errors.Is(err, apperrors.ErrInvalidInput) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.FromContext(r.Context()).Error("query failed", "error", err, "status_code", status)
	message := "query failed"
	if status == http.StatusServiceUnavailable {
		message = "index unavailable"
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
