// Package settings persists the retrieval defaults applied when a search
// request leaves a parameter unset.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	DefaultMinScore      float32 = 0.75
	DefaultMaxCandidates         = 50
	DefaultTopK                  = 3
	DefaultRawCandidates         = 50
)

var ErrInvalid = errors.New("invalid settings")

type Settings struct {
	ID            int     `json:"-"`
	MinScore      float32 `json:"min_score"`
	MaxCandidates int     `json:"max_candidates"`
	TopK          int     `json:"top_k"`
	RawCandidates int     `json:"raw_candidates"`
}

func Defaults() *Settings {
	return &Settings{
		ID:            1,
		MinScore:      DefaultMinScore,
		MaxCandidates: DefaultMaxCandidates,
		TopK:          DefaultTopK,
		RawCandidates: DefaultRawCandidates,
	}
}

func (s *Settings) Validate() error {
	if s.MinScore < 0 || s.MinScore > 1 {
		return fmt.Errorf("%w: min_score must be within [0, 1]", ErrInvalid)
	}
	if s.MaxCandidates <= 0 {
		return fmt.Errorf("%w: max_candidates must be positive", ErrInvalid)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive", ErrInvalid)
	}
	if s.RawCandidates <= 0 {
		return fmt.Errorf("%w: raw_candidates must be positive", ErrInvalid)
	}
	return nil
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the stored settings, or the defaults when none are stored.
func (s *Service) Get(ctx context.Context) (*Settings, error) {
	set, err := s.repo.Get(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	return set, err
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}

// Reset stores and returns the built-in defaults.
func (s *Service) Reset(ctx context.Context) (*Settings, error) {
	set := Defaults()
	if err := s.repo.Update(ctx, set); err != nil {
		return nil, err
	}
	return set, nil
}
