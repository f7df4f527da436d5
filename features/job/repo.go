package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Repository interface {
	Save(ctx context.Context, job *Job) error
	List(ctx context.Context, f Filter) ([]Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

const jobColumns = `id, doc_id, topic, payload, error, retries, created_at`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, j *Job) error {
	query := `INSERT INTO failed_jobs (doc_id, topic, payload, error, retries) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, j.DocID, j.Topic, []byte(j.Payload), j.Error, j.Retries).Scan(&j.ID, &j.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert failed job: %w", err)
	}
	return nil
}

// List returns the newest jobs first.
func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM failed_jobs ORDER BY created_at DESC LIMIT $1`
	args := []any{f.limit()}
	if f.DocID != "" {
		query = `SELECT ` + jobColumns + ` FROM failed_jobs WHERE doc_id = $1 ORDER BY created_at DESC LIMIT $2`
		args = []any{f.DocID, f.limit()}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM failed_jobs WHERE id = $1`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM failed_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_jobs`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	j := &Job{}
	var payload []byte
	if err := s.Scan(&j.ID, &j.DocID, &j.Topic, &payload, &j.Error, &j.Retries, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.Payload = payload
	return j, nil
}
