package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tailorcv/backend/features/document"
	"tailorcv/backend/internal/backoff"
	"tailorcv/backend/internal/chunker"
	"tailorcv/backend/internal/fault"
	"tailorcv/backend/internal/logger"
	"tailorcv/backend/internal/middleware"
	"tailorcv/backend/internal/queue"
	"tailorcv/backend/internal/vector"
)

type ProcessorConfig struct {
	RequeueBaseDelay time.Duration
	RequeueMaxDelay  time.Duration
}

// Processor turns one ingestion event into indexed chunk vectors:
// fetch the document, chunk it, embed the chunks, upsert the vectors.
// Chunk ids are deterministic and upserts overwrite, so processing the
// same event twice leaves the index unchanged.
type Processor struct {
	docs     DocumentSource
	chunker  *chunker.Chunker
	embedder Embedder
	index    VectorWriter
	cfg      ProcessorConfig
}

var _ Handler = (*Processor)(nil)

func NewProcessor(docs DocumentSource, c *chunker.Chunker, e Embedder, idx VectorWriter, cfg ProcessorConfig) *Processor {
	if cfg.RequeueBaseDelay <= 0 {
		cfg.RequeueBaseDelay = time.Second
	}
	if cfg.RequeueMaxDelay <= 0 {
		cfg.RequeueMaxDelay = time.Minute
	}
	return &Processor{docs: docs, chunker: c, embedder: e, index: idx, cfg: cfg}
}

func (p *Processor) Process(ctx context.Context, d queue.Delivery) queue.Result {
	ev, err := queue.DecodeEvent(d.Body())
	if err != nil {
		slog.ErrorContext(ctx, "poison pill: malformed event", "error", err, "attempt", d.Attempts())
		return queue.Result{Outcome: queue.Discard, Err: fault.Malformed("worker.decode", err)}
	}

	if ev.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, ev.CorrelationID)
	}

	doc, err := p.docs.Get(ctx, ev.DocID)
	if errors.Is(err, document.ErrNotFound) {
		slog.ErrorContext(ctx, "document not found, discarding event", "doc_id", ev.DocID)
		return queue.Result{Outcome: queue.Discard, Err: fault.New(fault.KindNotFound, "worker.fetch", err)}
	}
	if err != nil {
		return p.fail(ctx, d, ev.DocID, "fetch document", err)
	}

	chunks := p.chunker.Chunk(doc.ID, doc.Sections)
	if len(chunks) == 0 {
		slog.InfoContext(ctx, "document has no chunkable content", "doc_id", doc.ID)
		return queue.Result{Outcome: queue.Ack}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return p.fail(ctx, d, doc.ID, "embed chunks", err)
	}

	records := make([]vector.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vector.Record{ID: c.ID, Vector: vecs[i], Metadata: c.Metadata()}
	}

	if err := p.index.Upsert(ctx, records); err != nil {
		return p.fail(ctx, d, doc.ID, "upsert vectors", err)
	}

	slog.InfoContext(ctx, "document indexed", "doc_id", doc.ID, "chunks", len(chunks), "attempt", d.Attempts())
	return queue.Result{Outcome: queue.Ack}
}

// fail maps an error kind to an outcome. Only transient and unclassified
// failures are retried.
func (p *Processor) fail(ctx context.Context, d queue.Delivery, docID, stage string, err error) queue.Result {
	err = fmt.Errorf("%s: %w", stage, err)
	kind := fault.KindOf(err)
	attrs := []any{"doc_id", docID, "stage", stage, "kind", kind.String(), "attempt", d.Attempts(), "error", err}

	switch kind {
	case fault.KindResourceExhausted:
		slog.Log(ctx, logger.LevelCritical, "resource exhausted, discarding event", attrs...)
		return queue.Result{Outcome: queue.Discard, Err: err}
	case fault.KindMalformed, fault.KindNotFound, fault.KindConfig:
		slog.ErrorContext(ctx, "unrecoverable failure, discarding event", attrs...)
		return queue.Result{Outcome: queue.Discard, Err: err}
	}

	delay := backoff.Delay(p.cfg.RequeueBaseDelay, d.Attempts(), p.cfg.RequeueMaxDelay)
	if kind == fault.KindTransient {
		slog.WarnContext(ctx, "transient failure, requeueing", append(attrs, "delay", delay)...)
	} else {
		slog.ErrorContext(ctx, "unclassified failure, requeueing", append(attrs, "delay", delay)...)
	}
	return queue.Result{Outcome: queue.Requeue, Delay: delay, Err: err}
}
