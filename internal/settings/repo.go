package settings

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	query := `SELECT id, min_score, max_candidates, top_k, raw_candidates FROM settings WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.MinScore, &s.MaxCandidates, &s.TopK, &s.RawCandidates)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `
		INSERT INTO settings (id, min_score, max_candidates, top_k, raw_candidates, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET min_score = $1, max_candidates = $2, top_k = $3, raw_candidates = $4, updated_at = NOW()
	`
	_, err := r.db.ExecContext(ctx, query, s.MinScore, s.MaxCandidates, s.TopK, s.RawCandidates)
	return err
}
