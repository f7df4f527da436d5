// Package vector defines the chunk vector index contract shared by the
// Weaviate, pgvector, and in-memory backends.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Metadata keys stored next to every vector.
const (
	MetaDocID   = "doc_id"
	MetaSection = "section_type"
	MetaText    = "text"
	MetaOrdinal = "ordinal"
)

var ErrDimensionMismatch = errors.New("vector dimension mismatch")

type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

type Match struct {
	ID       string
	Score    float32
	Metadata map[string]string
}

type Index interface {
	EnsureSchema(ctx context.Context) error
	// Dimension reports the dimension of stored vectors, or 0 when the index
	// cannot tell yet (for example because it is empty).
	Dimension(ctx context.Context) (int, error)
	// Upsert writes records keyed by ID; writing an existing ID replaces it.
	Upsert(ctx context.Context, records []Record) error
	// Query returns at most k matches ordered by descending score, ties by
	// ascending ID. Every filter entry must equal the match's metadata.
	Query(ctx context.Context, vec []float32, k int, filter map[string]string) ([]Match, error)
	DeleteByDoc(ctx context.Context, docID string) error
	Count(ctx context.Context) (int, error)
}

// SortMatches orders matches by descending score, breaking ties by ID.
func SortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
}

// Batches splits records into consecutive slices of at most size elements.
func Batches(records []Record, size int) [][]Record {
	if size <= 0 {
		size = len(records)
	}
	var out [][]Record
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, records[start:end])
	}
	return out
}

// ScoreFromDistance converts a cosine distance in [0, 2] to a similarity in [0, 1].
func ScoreFromDistance(distance float64) float32 {
	s := 1 - distance
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return float32(s)
}

// CheckDimension fails when the configured dimension disagrees with the
// embedding model or with vectors already stored in the index.
func CheckDimension(ctx context.Context, idx Index, configured, model int) error {
	if model != configured {
		return fmt.Errorf("%w: embedding model returns %d, configured %d", ErrDimensionMismatch, model, configured)
	}
	stored, err := idx.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("read index dimension: %w", err)
	}
	if stored != 0 && stored != configured {
		return fmt.Errorf("%w: index stores %d, configured %d", ErrDimensionMismatch, stored, configured)
	}
	return nil
}

// MatchesFilter reports whether meta satisfies every filter entry.
func MatchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}
