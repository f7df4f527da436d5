// Package memory is an in-process vector index using brute-force cosine
// similarity. It backs local development and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sync"

	"tailorcv/backend/internal/fault"
	"tailorcv/backend/internal/vector"
)

type Index struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]vector.Record
}

var _ vector.Index = (*Index)(nil)

func New(dimension int) *Index {
	return &Index{dimension: dimension, records: make(map[string]vector.Record)}
}

func (s *Index) EnsureSchema(ctx context.Context) error {
	if s.dimension <= 0 {
		return fault.New(fault.KindConfig, "memory.EnsureSchema", fmt.Errorf("invalid dimension %d", s.dimension))
	}
	return nil
}

func (s *Index) Dimension(ctx context.Context) (int, error) {
	return s.dimension, nil
}

func (s *Index) Upsert(ctx context.Context, records []vector.Record) error {
	for _, r := range records {
		if len(r.Vector) != s.dimension {
			return fault.New(fault.KindConfig, "memory.Upsert",
				fmt.Errorf("%w: record %s has %d, index has %d", vector.ErrDimensionMismatch, r.ID, len(r.Vector), s.dimension))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		s.records[r.ID] = vector.Record{ID: r.ID, Vector: append([]float32(nil), r.Vector...), Metadata: meta}
	}
	return nil
}

func (s *Index) Query(ctx context.Context, vec []float32, k int, filter map[string]string) ([]vector.Match, error) {
	if len(vec) != s.dimension {
		return nil, fault.New(fault.KindConfig, "memory.Query",
			fmt.Errorf("%w: query has %d, index has %d", vector.ErrDimensionMismatch, len(vec), s.dimension))
	}
	if k <= 0 {
		return []vector.Match{}, nil
	}

	s.mu.RLock()
	matches := make([]vector.Match, 0, len(s.records))
	for id, r := range s.records {
		if !vector.MatchesFilter(r.Metadata, filter) {
			continue
		}
		matches = append(matches, vector.Match{
			ID:       id,
			Score:    vector.ScoreFromDistance(1 - cosine(vec, r.Vector)),
			Metadata: r.Metadata,
		})
	}
	s.mu.RUnlock()

	vector.SortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Index) DeleteByDoc(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.Metadata[vector.MetaDocID] == docID {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *Index) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Get returns a stored record; used to assert idempotent writes.
func (s *Index) Get(id string) (vector.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
