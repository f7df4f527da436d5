package pgvector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"tailorcv/backend/internal/fault"
	"tailorcv/backend/internal/vector"
)

// columns maps filterable metadata keys to table columns.
var columns = map[string]string{
	vector.MetaDocID:   "doc_id",
	vector.MetaSection: "section_type",
}

// Store keeps chunk vectors in a Postgres table with a pgvector column,
// next to the documents they came from.
type Store struct {
	db        *sql.DB
	dimension int
	batchSize int
}

var _ vector.Index = (*Store)(nil)

func NewStore(db *sql.DB, dimension, batchSize int) *Store {
	if batchSize <= 0 || batchSize > 100 {
		batchSize = 100
	}
	return &Store{db: db, dimension: dimension, batchSize: batchSize}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS cv_chunks (
			chunk_id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			section_type TEXT NOT NULL,
			ordinal INT NOT NULL,
			text TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS cv_chunks_doc_id_idx ON cv_chunks (doc_id)`,
		`CREATE INDEX IF NOT EXISTS cv_chunks_embedding_idx ON cv_chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return classify("pgvector.EnsureSchema", err)
		}
	}
	return nil
}

// Dimension reads the declared dimension of the embedding column.
func (s *Store) Dimension(ctx context.Context) (int, error) {
	var typmod int
	query := `SELECT atttypmod FROM pg_attribute WHERE attrelid = 'cv_chunks'::regclass AND attname = 'embedding'`
	err := s.db.QueryRowContext(ctx, query).Scan(&typmod)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classify("pgvector.Dimension", err)
	}
	if typmod < 0 {
		return 0, nil
	}
	return typmod, nil
}

func (s *Store) Upsert(ctx context.Context, records []vector.Record) error {
	query := `
		INSERT INTO cv_chunks (chunk_id, doc_id, section_type, ordinal, text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chunk_id) DO UPDATE
		SET doc_id = EXCLUDED.doc_id, section_type = EXCLUDED.section_type, ordinal = EXCLUDED.ordinal,
			text = EXCLUDED.text, embedding = EXCLUDED.embedding
	`
	for _, batch := range vector.Batches(records, s.batchSize) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return classify("pgvector.Upsert", err)
		}
		for _, r := range batch {
			ordinal, _ := strconv.Atoi(r.Metadata[vector.MetaOrdinal])
			_, err := tx.ExecContext(ctx, query,
				r.ID, r.Metadata[vector.MetaDocID], r.Metadata[vector.MetaSection], ordinal, r.Metadata[vector.MetaText], pgv.NewVector(r.Vector))
			if err != nil {
				_ = tx.Rollback()
				return classify("pgvector.Upsert", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return classify("pgvector.Upsert", err)
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, vec []float32, k int, filter map[string]string) ([]vector.Match, error) {
	if k <= 0 {
		return []vector.Match{}, nil
	}

	args := []interface{}{pgv.NewVector(vec), k}
	var where []string
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		col, ok := columns[key]
		if !ok {
			return nil, fault.Malformed("pgvector.Query", fmt.Errorf("unsupported filter key %q", key))
		}
		args = append(args, filter[key])
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	query := `SELECT chunk_id, doc_id, section_type, ordinal, text, 1 - (embedding <=> $1) AS score FROM cv_chunks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY embedding <=> $1, chunk_id LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("pgvector.Query", err)
	}
	defer rows.Close()

	matches := []vector.Match{}
	for rows.Next() {
		var id, docID, section, text string
		var ordinal int
		var score float64
		if err := rows.Scan(&id, &docID, &section, &ordinal, &text, &score); err != nil {
			return nil, err
		}
		matches = append(matches, vector.Match{
			ID:    id,
			Score: vector.ScoreFromDistance(1 - score),
			Metadata: map[string]string{
				vector.MetaDocID:   docID,
				vector.MetaSection: section,
				vector.MetaText:    text,
				vector.MetaOrdinal: strconv.Itoa(ordinal),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify("pgvector.Query", err)
	}

	vector.SortMatches(matches)
	return matches, nil
}

func (s *Store) DeleteByDoc(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cv_chunks WHERE doc_id = $1`, docID)
	if err != nil {
		return classify("pgvector.DeleteByDoc", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cv_chunks`).Scan(&count)
	if err != nil {
		return 0, classify("pgvector.Count", err)
	}
	return count, nil
}

func classify(op string, err error) error {
	if errors.Is(err, driver.ErrBadConn) {
		return fault.Transient(op, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return fault.Transient(op, err)
		case "22":
			return fault.Malformed(op, err)
		}
	}
	return fault.New(fault.KindOf(err), op, err)
}
