package document_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailorcv/backend/features/document"
)

func TestPostgresRepo_Exists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := document.NewPostgresRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM documents WHERE doc_id = $1)")).
		WithArgs("abc").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.Exists(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPostgresRepo_Put(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := document.NewPostgresRepo(db)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc := &document.Document{
		ID:        "abc",
		Sections:  map[string]any{"summary": " Engineer ", "skills": []any{"Go"}},
		Text:      "raw",
		CreatedAt: now,
	}
	query := regexp.QuoteMeta("INSERT INTO documents (doc_id, sections, text, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (doc_id) DO NOTHING")

	t.Run("Created", func(t *testing.T) {
		mock.ExpectExec(query).
			WithArgs("abc", []byte(`{"skills":["Go"],"summary":"Engineer"}`), "raw", now, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		created, err := repo.Put(context.Background(), doc)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("AlreadyStored", func(t *testing.T) {
		mock.ExpectExec(query).
			WillReturnResult(sqlmock.NewResult(0, 0))

		created, err := repo.Put(context.Background(), doc)
		require.NoError(t, err)
		assert.False(t, created)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := document.NewPostgresRepo(db)
	query := regexp.QuoteMeta("SELECT doc_id, sections, text, created_at, updated_at FROM documents WHERE doc_id = $1")

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs("abc").
			WillReturnRows(sqlmock.NewRows([]string{"doc_id", "sections", "text", "created_at", "updated_at"}).
				AddRow("abc", []byte(`{"summary":"Engineer"}`), "", time.Now(), time.Now()))

		doc, err := repo.Get(context.Background(), "abc")
		require.NoError(t, err)
		assert.Equal(t, "Engineer", doc.Sections["summary"])
	})

	t.Run("Missing", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(context.Background(), "nope")
		assert.ErrorIs(t, err, document.ErrNotFound)
	})
}

func TestPostgresRepo_LatestCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := document.NewPostgresRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT doc_id, sections, text, created_at, updated_at FROM documents ORDER BY updated_at DESC, doc_id ASC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"doc_id", "sections", "text", "created_at", "updated_at"}).
			AddRow("new", []byte(`{"skills":["Go"]}`), "", time.Now(), time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM documents")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	doc, err := repo.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", doc.ID)

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPostgresRepo_Touch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := document.NewPostgresRepo(db)
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta("UPDATE documents SET updated_at = $2 WHERE doc_id = $1")

	mock.ExpectExec(query).WithArgs("abc", at).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Touch(context.Background(), "abc", at))

	mock.ExpectExec(query).WithArgs("nope", at).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Touch(context.Background(), "nope", at), document.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
