package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tailorcv/backend/features/document"
)

// memoryDocs is an in-process document.Repository.
type memoryDocs struct {
	mu   sync.Mutex
	docs map[string]*document.Document
}

func newMemoryDocs() *memoryDocs {
	return &memoryDocs{docs: map[string]*document.Document{}}
}

func (m *memoryDocs) Exists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[id]
	return ok, nil
}

func (m *memoryDocs) Put(ctx context.Context, doc *document.Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return false, nil
	}
	m.docs[doc.ID] = doc
	return true, nil
}

func (m *memoryDocs) Touch(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return document.ErrNotFound
	}
	doc.UpdatedAt = at
	return nil
}

func (m *memoryDocs) Get(ctx context.Context, id string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, document.ErrNotFound
	}
	return doc, nil
}

func (m *memoryDocs) Latest(ctx context.Context) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*document.Document, 0, len(m.docs))
	for _, d := range m.docs {
		all = append(all, d)
	}
	if len(all) == 0 {
		return nil, document.ErrNotFound
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	return all[0], nil
}

func (m *memoryDocs) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs), nil
}

// wordModel embeds text into three buckets by keyword so related texts
// land close together.
type wordModel struct{}

func (wordModel) Name() string { return "word-model" }

func (wordModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := []float32{0.01, 0.01, 0.01}
		for _, w := range []struct {
			word string
			dim  int
		}{{"Go", 0}, {"queues", 0}, {"Python", 1}, {"design", 2}} {
			if strings.Contains(t, w.word) {
				v[w.dim] += 1
			}
		}
		out[i] = v
	}
	return out, nil
}

type stubProber struct {
	dim int
	err error
}

func (p stubProber) Probe(ctx context.Context) (int, error) { return p.dim, p.err }

type flakySchema struct {
	calls     int
	failUntil int
}

func (f *flakySchema) EnsureSchema(ctx context.Context) error {
	f.calls++
	if f.calls <= f.failUntil {
		return context.DeadlineExceeded
	}
	return nil
}
