package worker

import (
	"context"
	"log/slog"
	"sync"

	"tailorcv/backend/internal/queue"
)

// Pool runs a fixed number of workers, each settling one delivery at a
// time. Discarded deliveries are recorded with the dead-letter sink.
type Pool struct {
	source     queue.Source
	handler    Handler
	workers    int
	topic      string
	deadLetter queue.DeadLetter
}

func NewPool(source queue.Source, handler Handler, workers int, topic string, deadLetter queue.DeadLetter) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{source: source, handler: handler, workers: workers, topic: topic, deadLetter: deadLetter}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("worker pool starting", "topic", p.topic, "workers", p.workers)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}

	<-ctx.Done()
	p.source.Stop()
	wg.Wait()
	slog.Info("worker pool stopped", "topic", p.topic)
	return nil
}

func (p *Pool) loop(ctx context.Context, id int) {
	deliveries := p.source.Deliveries()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			p.handle(ctx, id, d)
		}
	}
}

func (p *Pool) handle(ctx context.Context, id int, d queue.Delivery) {
	res := p.handler.Process(ctx, d)

	if res.Outcome == queue.Discard && p.deadLetter != nil {
		reason := "discarded"
		if res.Err != nil {
			reason = res.Err.Error()
		}
		if err := p.deadLetter.Record(context.WithoutCancel(ctx), p.topic, d.Body(), reason); err != nil {
			slog.ErrorContext(ctx, "failed to record dead letter", "worker", id, "error", err)
		}
	}

	queue.Settle(d, res)
	slog.DebugContext(ctx, "delivery settled", "worker", id, "outcome", res.Outcome.String(), "attempt", d.Attempts())
}
