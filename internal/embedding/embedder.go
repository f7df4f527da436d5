// Package embedding turns chunk text into vectors through a pluggable model
// provider, enforcing batch limits and the configured vector dimension.
package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"tailorcv/backend/internal/fault"
)

// Model is a provider client. EmbedBatch must return one vector per input in
// input order, and classify its errors with fault kinds.
type Model interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

type Options struct {
	BatchSize     int
	Dimension     int
	MaxInputBytes int
	// RateLimit caps provider calls per second; zero disables throttling.
	RateLimit float64
}

type Embedder struct {
	model   Model
	opts    Options
	limiter *rate.Limiter
}

func New(model Model, opts Options) *Embedder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	e := &Embedder{model: model, opts: opts}
	if opts.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return e
}

func (e *Embedder) Dimension() int { return e.opts.Dimension }

// Embed returns one vector per text in the same order. Any failed batch fails
// the whole call; partial results are never returned.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	for i, t := range texts {
		if t == "" {
			return nil, fault.Malformed("embedding.Embed", fmt.Errorf("text %d is empty", i))
		}
		if e.opts.MaxInputBytes > 0 && len(t) > e.opts.MaxInputBytes {
			return nil, fault.ResourceExhausted("embedding.Embed",
				fmt.Errorf("text %d is %d bytes, limit is %d", i, len(t), e.opts.MaxInputBytes))
		}
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(texts))
		batch := texts[start:end]

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, fault.Transient("embedding.Embed", err)
			}
		}

		slog.DebugContext(ctx, "embedding batch", "model", e.model.Name(), "size", len(batch), "offset", start)
		vectors, err := e.model.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch at offset %d: %w", start, err)
		}
		if len(vectors) != len(batch) {
			return nil, fault.New(fault.KindUnknown, "embedding.Embed",
				fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), len(batch)))
		}
		for i, v := range vectors {
			if err := e.checkDimension(v); err != nil {
				return nil, fmt.Errorf("text %d: %w", start+i, err)
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Probe embeds a fixed string and reports the dimension the provider actually
// returns, without checking it against the configured one.
func (e *Embedder) Probe(ctx context.Context) (int, error) {
	vectors, err := e.model.EmbedBatch(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vectors) != 1 {
		return 0, fmt.Errorf("probe returned %d vectors", len(vectors))
	}
	return len(vectors[0]), nil
}

func (e *Embedder) checkDimension(v []float32) error {
	if e.opts.Dimension > 0 && len(v) != e.opts.Dimension {
		return fault.New(fault.KindConfig, "embedding.Embed",
			fmt.Errorf("vector has dimension %d, configured %d", len(v), e.opts.Dimension))
	}
	return nil
}
