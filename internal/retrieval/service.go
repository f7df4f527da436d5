// Package retrieval answers job-description queries against the chunk index:
// threshold-filtered chunk search and score-summed document ranking.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tailorcv/backend/internal/middleware"
	"tailorcv/backend/internal/settings"
	"tailorcv/backend/internal/vector"
)

var ErrInvalidArgument = errors.New("invalid argument")

type ChunkResult struct {
	ChunkID     string  `json:"chunk_id"`
	Text        string  `json:"text"`
	SectionType string  `json:"section_type"`
	DocID       string  `json:"doc_id"`
	Score       float32 `json:"score"`
}

type DocumentResult struct {
	DocID         string  `json:"doc_id"`
	Score         float32 `json:"score"`
	MatchedChunks int     `json:"matched_chunks"`
}

// ChunkOptions overrides the stored defaults; nil fields keep them.
type ChunkOptions struct {
	MinScore      *float32
	MaxCandidates *int
	Filter        map[string]string
}

type RankOptions struct {
	TopK          *int
	RawCandidates *int
}

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Query(ctx context.Context, vec []float32, k int, filter map[string]string) ([]vector.Match, error)
}

type Service struct {
	embedder       Embedder
	index          Searcher
	settings       *settings.Service
	logger         *QueryLogger
	candidateLimit int
}

// NewService caps every candidate window at candidateLimit; 0 leaves it uncapped.
func NewService(e Embedder, idx Searcher, set *settings.Service, l *QueryLogger, candidateLimit int) *Service {
	return &Service{embedder: e, index: idx, settings: set, logger: l, candidateLimit: candidateLimit}
}

// SearchChunks returns the chunks among the nearest MaxCandidates whose
// score is at least MinScore, best first.
func (s *Service) SearchChunks(ctx context.Context, query string, opts *ChunkOptions) ([]ChunkResult, error) {
	start := time.Now()

	cfg := s.defaults(ctx)
	minScore, maxCandidates := cfg.MinScore, cfg.MaxCandidates
	var filter map[string]string
	if opts != nil {
		if opts.MinScore != nil {
			minScore = *opts.MinScore
		}
		if opts.MaxCandidates != nil {
			maxCandidates = *opts.MaxCandidates
		}
		filter = opts.Filter
	}

	if minScore < 0 || minScore > 1 {
		return nil, fmt.Errorf("%w: min_score must be within [0, 1]", ErrInvalidArgument)
	}
	maxCandidates, err := s.window("max_candidates", maxCandidates)
	if err != nil {
		return nil, err
	}

	matches, err := s.candidates(ctx, query, maxCandidates, filter)
	if err != nil {
		return nil, err
	}

	results := []ChunkResult{}
	for _, m := range matches {
		if m.Score < minScore {
			continue
		}
		results = append(results, ChunkResult{
			ChunkID:     m.ID,
			Text:        m.Metadata[vector.MetaText],
			SectionType: m.Metadata[vector.MetaSection],
			DocID:       m.Metadata[vector.MetaDocID],
			Score:       m.Score,
		})
	}

	s.log(ctx, "search_chunks", query, len(matches), len(results), start)
	return results, nil
}

// RankDocuments sums the scores of each document's chunks among the nearest
// RawCandidates and returns the TopK documents. Equal sums order by doc_id.
func (s *Service) RankDocuments(ctx context.Context, query string, opts *RankOptions) ([]DocumentResult, error) {
	start := time.Now()

	cfg := s.defaults(ctx)
	topK, raw := cfg.TopK, cfg.RawCandidates
	if opts != nil {
		if opts.TopK != nil {
			topK = *opts.TopK
		}
		if opts.RawCandidates != nil {
			raw = *opts.RawCandidates
		}
	}

	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", ErrInvalidArgument)
	}
	raw, err := s.window("raw_candidates", raw)
	if err != nil {
		return nil, err
	}

	matches, err := s.candidates(ctx, query, raw, nil)
	if err != nil {
		return nil, err
	}

	ranked := Aggregate(matches)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	s.log(ctx, "rank_documents", query, len(matches), len(ranked), start)
	return ranked, nil
}

// Aggregate groups matches by document and sums their scores.
func Aggregate(matches []vector.Match) []DocumentResult {
	byDoc := map[string]*DocumentResult{}
	for _, m := range matches {
		id := m.Metadata[vector.MetaDocID]
		if id == "" {
			continue
		}
		r, ok := byDoc[id]
		if !ok {
			r = &DocumentResult{DocID: id}
			byDoc[id] = r
		}
		r.Score += m.Score
		r.MatchedChunks++
	}

	out := make([]DocumentResult, 0, len(byDoc))
	for _, r := range byDoc {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID
	})
	return out
}

func (s *Service) candidates(ctx context.Context, query string, k int, filter map[string]string) ([]vector.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query text is required", ErrInvalidArgument)
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := s.index.Query(ctx, vec, k, filter)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return matches, nil
}

func (s *Service) window(name string, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidArgument, name)
	}
	if s.candidateLimit > 0 && n > s.candidateLimit {
		return s.candidateLimit, nil
	}
	return n, nil
}

func (s *Service) defaults(ctx context.Context) *settings.Settings {
	if s.settings == nil {
		return settings.Defaults()
	}
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to load retrieval settings, using defaults", "error", err)
		return settings.Defaults()
	}
	return cfg
}

func (s *Service) log(ctx context.Context, op, query string, candidates, results int, start time.Time) {
	if s.logger == nil {
		return
	}
	s.logger.Log(QueryLogEntry{
		Operation:     op,
		Query:         query,
		NumCandidates: candidates,
		NumResults:    results,
		Duration:      time.Since(start),
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
}
