// Package search serves the retrieval endpoints.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tailorcv/backend/internal/middleware"
	"tailorcv/backend/internal/retrieval"
	"tailorcv/backend/internal/vector"
)

const maxBodyBytes = 256 << 10

type Retriever interface {
	SearchChunks(ctx context.Context, query string, opts *retrieval.ChunkOptions) ([]retrieval.ChunkResult, error)
	RankDocuments(ctx context.Context, query string, opts *retrieval.RankOptions) ([]retrieval.DocumentResult, error)
}

type Handler struct {
	retriever Retriever
}

func NewHandler(r Retriever) *Handler {
	return &Handler{retriever: r}
}

type ChunksRequest struct {
	JDText        string   `json:"jd_text"`
	MinScore      *float32 `json:"min_score,omitempty"`
	MaxCandidates *int     `json:"max_candidates,omitempty"`
	SectionType   string   `json:"section_type,omitempty"`
	DocID         string   `json:"doc_id,omitempty"`
}

type DocumentsRequest struct {
	JDText        string `json:"jd_text"`
	TopK          *int   `json:"top_k,omitempty"`
	RawCandidates *int   `json:"raw_candidates,omitempty"`
}

func (h *Handler) SearchChunks(w http.ResponseWriter, r *http.Request) {
	var req ChunksRequest
	if !h.decode(w, r, &req) {
		return
	}

	opts := &retrieval.ChunkOptions{MinScore: req.MinScore, MaxCandidates: req.MaxCandidates}
	if req.SectionType != "" || req.DocID != "" {
		opts.Filter = map[string]string{}
		if req.SectionType != "" {
			opts.Filter[vector.MetaSection] = req.SectionType
		}
		if req.DocID != "" {
			opts.Filter[vector.MetaDocID] = req.DocID
		}
	}

	results, err := h.retriever.SearchChunks(r.Context(), req.JDText, opts)
	if err != nil {
		h.handleError(r.Context(), w, "search chunks", err)
		return
	}
	h.writeJSON(r.Context(), w, results)
}

func (h *Handler) RankDocuments(w http.ResponseWriter, r *http.Request) {
	var req DocumentsRequest
	if !h.decode(w, r, &req) {
		return
	}

	results, err := h.retriever.RankDocuments(r.Context(), req.JDText, &retrieval.RankOptions{
		TopK:          req.TopK,
		RawCandidates: req.RawCandidates,
	})
	if err != nil {
		h.handleError(r.Context(), w, "rank documents", err)
		return
	}
	h.writeJSON(r.Context(), w, results)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if errors.Is(err, retrieval.ErrInvalidArgument) {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	slog.ErrorContext(ctx, op+" failed", "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", op+" failed", http.StatusInternalServerError)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
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
	json.NewEncoder(w).Encode(resp)
}
