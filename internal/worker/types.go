package worker

import (
	"context"

	"tailorcv/backend/features/document"
	"tailorcv/backend/internal/queue"
	"tailorcv/backend/internal/vector"
)

type DocumentSource interface {
	Get(ctx context.Context, id string) (*document.Document, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorWriter interface {
	Upsert(ctx context.Context, records []vector.Record) error
}

// Handler decides the outcome of one delivery.
type Handler interface {
	Process(ctx context.Context, d queue.Delivery) queue.Result
}

type HandlerFunc func(ctx context.Context, d queue.Delivery) queue.Result

func (f HandlerFunc) Process(ctx context.Context, d queue.Delivery) queue.Result { return f(ctx, d) }
