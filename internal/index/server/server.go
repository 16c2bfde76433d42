// Package server exposes an index.Store over HTTP so the ingestion,
// indexing and query processes can share one index.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/content-pipeline/internal/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/content-pipeline/pkg/logger"
)

const maxBodyBytes = 32 << 20

type IndexResponse struct {
	ID string `json:"id"`
}

type BulkRequest struct {
	Documents []index.Document `json:"documents"`
}

type BulkResponse struct {
	Indexed int `json:"indexed"`
}

type SearchResponse struct {
	Documents []index.Document `json:"documents"`
}

type CountResponse struct {
	Count uint64 `json:"count"`
}

type Handler struct {
	store  index.Store
	logger *slog.Logger
}

func New(store index.Store) *Handler {
	return &Handler{
		store:  store,
		logger: slog.Default().With("component", "index-server"),
	}
}

// Routes registers the index API on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /documents", h.Index)
	mux.HandleFunc("POST /documents/_bulk", h.Bulk)
	mux.HandleFunc("POST /_search", h.Search)
	mux.HandleFunc("GET /_count", h.Count)
	mux.HandleFunc("GET /health", h.Health)
	return mux
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	var doc index.Document
	if !h.decode(w, r, &doc) {
		return
	}
	id, err := h.store.Index(r.Context(), doc)
	if err != nil {
		h.fail(w, r, "index failed", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, IndexResponse{ID: id})
}

func (h *Handler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req BulkRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.store.Bulk(r.Context(), req.Documents); err != nil {
		h.fail(w, r, "bulk index failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, BulkResponse{Indexed: len(req.Documents)})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var q index.Query
	if !h.decode(w, r, &q) {
		return
	}
	docs, err := h.store.Search(r.Context(), q)
	if err != nil {
		h.fail(w, r, "search failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, SearchResponse{Documents: docs})
}

func (h *Handler) Count(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Count(r.Context())
	if err != nil {
		h.fail(w, r, "count failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "index unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// fail maps store errors onto status codes the client can classify:
// permanent errors become 422, everything else keeps its 5xx.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	if apperrors.IsPermanent(err) {
		status = http.StatusUnprocessableEntity
	}
	logger.FromContext(r.Context()).Error(msg, "error", err, "status_code", status)
	h.writeError(w, status, err.Error())
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
