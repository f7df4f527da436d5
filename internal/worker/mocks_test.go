package worker

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"tailorcv/backend/features/document"
	"tailorcv/backend/internal/vector"
)

type MockDocs struct {
	mock.Mock
}

func (m *MockDocs) Get(ctx context.Context, id string) (*document.Document, error) {
	args := m.Called(ctx, id)
	if d := args.Get(0); d != nil {
		return d.(*document.Document), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if v := args.Get(0); v != nil {
		return v.([][]float32), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) Upsert(ctx context.Context, records []vector.Record) error {
	return m.Called(ctx, records).Error(0)
}

// fakeDelivery records how it was settled.
type fakeDelivery struct {
	body     []byte
	attempts int

	mu      sync.Mutex
	settled string
	delay   time.Duration
}

func (d *fakeDelivery) Body() []byte  { return d.body }
func (d *fakeDelivery) Attempts() int { return d.attempts }

func (d *fakeDelivery) Ack()     { d.settle("ack", 0) }
func (d *fakeDelivery) Discard() { d.settle("discard", 0) }

func (d *fakeDelivery) Requeue(delay time.Duration) { d.settle("requeue", delay) }

func (d *fakeDelivery) settle(how string, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settled = how
	d.delay = delay
}

// lenEmbedder returns a fixed-direction vector per text, varied by length.
type lenEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *lenEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t)), 0.5}
	}
	return out, nil
}

type recordingDeadLetter struct {
	mu      sync.Mutex
	reasons []string
	bodies  [][]byte
}

func (r *recordingDeadLetter) Record(ctx context.Context, topic string, body []byte, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	r.bodies = append(r.bodies, body)
	return nil
}

func (r *recordingDeadLetter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}
