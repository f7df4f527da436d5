package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tailorcv/backend/internal/middleware"
)

const maxBodyBytes = 4 << 10

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Get(r.Context())
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, s)
}

// UpdateSettings starts from the stored values so a partial body only
// changes the fields it names. Unknown fields are rejected.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, err := h.svc.Get(ctx)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.Update(ctx, s); err != nil {
		h.handleError(ctx, w, err)
		return
	}
	slog.InfoContext(ctx, "retrieval settings updated", "min_score", s.MinScore, "max_candidates", s.MaxCandidates, "top_k", s.TopK, "raw_candidates", s.RawCandidates)
	h.writeJSON(ctx, w, s)
}

// ResetSettings stores the built-in defaults.
func (h *Handler) ResetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Reset(r.Context())
	if err != nil {
		h.handleError(r.Context(), w, err)
		return
	}
	h.writeJSON(r.Context(), w, s)
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalid) {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	slog.ErrorContext(ctx, "settings request failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, s *Settings) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": s}); err != nil {
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
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
