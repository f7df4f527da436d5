// Package stats reports how much the pipeline currently holds.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"tailorcv/backend/internal/middleware"
)

// Counter is satisfied by the document store, the vector index and the
// failed job service.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	documents Counter
	chunks    Counter
	jobs      Counter
}

func NewHandler(documents, chunks, jobs Counter) *Handler {
	return &Handler{documents: documents, chunks: chunks, jobs: jobs}
}

type StatsResponse struct {
	Documents  int `json:"documents"`
	Chunks     int `json:"chunks"`
	FailedJobs int `json:"failed_jobs"`
}

// Collect counts all three stores concurrently. The first failure wins.
func (h *Handler) Collect(ctx context.Context) (StatsResponse, error) {
	var resp StatsResponse
	g, gctx := errgroup.WithContext(ctx)

	count := func(name string, c Counter, dst *int) {
		g.Go(func() error {
			n, err := c.Count(gctx)
			if err != nil {
				return fmt.Errorf("count %s: %w", name, err)
			}
			*dst = n
			return nil
		})
	}
	count("documents", h.documents, &resp.Documents)
	count("chunks", h.chunks, &resp.Chunks)
	count("failed jobs", h.jobs, &resp.FailedJobs)

	if err := g.Wait(); err != nil {
		return StatsResponse{}, err
	}
	return resp, nil
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.Collect(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to collect stats", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]interface{}{
		"error":         map[string]string{"code": code, "message": message},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
