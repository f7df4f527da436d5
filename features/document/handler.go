package document

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tailorcv/backend/internal/middleware"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req struct {
		Sections map[string]any `json:"sections"`
		Text     string         `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	doc, created, err := h.service.Store(r.Context(), req.Sections, req.Text)
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(r.Context(), w, status, map[string]interface{}{
		"doc_id":  doc.ID,
		"created": created,
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, doc)
}

func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	doc, err := h.service.Latest(r.Context())
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, doc)
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Ingest(r.Context(), id); err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusAccepted, map[string]string{"doc_id": id})
}

func (h *Handler) PurgeVectors(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.PurgeVectors(r.Context(), id); err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"doc_id": id})
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidID), errors.Is(err, ErrEmptySections):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		h.writeError(ctx, w, "NOT_FOUND", "Document not found", http.StatusNotFound)
	default:
		slog.ErrorContext(ctx, "operation failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
