package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tailorcv/backend/internal/identity"
)

type PostgresRepo struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepo)(nil)

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM documents WHERE doc_id = $1)`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostgresRepo) Put(ctx context.Context, doc *Document) (bool, error) {
	sections, err := identity.Canonical(doc.Sections)
	if err != nil {
		return false, fmt.Errorf("encode sections: %w", err)
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = doc.CreatedAt
	}
	query := `INSERT INTO documents (doc_id, sections, text, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (doc_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, doc.ID, sections, doc.Text, doc.CreatedAt, updatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) Touch(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE documents SET updated_at = $2 WHERE doc_id = $1`
	res, err := r.db.ExecContext(ctx, query, id, at)
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

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT doc_id, sections, text, created_at, updated_at FROM documents WHERE doc_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) Latest(ctx context.Context) (*Document, error) {
	query := `SELECT doc_id, sections, text, created_at, updated_at FROM documents ORDER BY updated_at DESC, doc_id ASC LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query))
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM documents`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

func (r *PostgresRepo) scanOne(row *sql.Row) (*Document, error) {
	d := &Document{}
	var sections []byte
	err := row.Scan(&d.ID, &sections, &d.Text, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sections, &d.Sections); err != nil {
		return nil, fmt.Errorf("decode sections of %s: %w", d.ID, err)
	}
	return d, nil
}
