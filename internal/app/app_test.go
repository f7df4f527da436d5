package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailorcv/backend/features/document"
	"tailorcv/backend/features/job"
	"tailorcv/backend/internal/cache"
	"tailorcv/backend/internal/config"
	"tailorcv/backend/internal/embedding"
	"tailorcv/backend/internal/queue"
	"tailorcv/backend/internal/vector/memory"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		EnableAPI:              false,
		EnableWorker:           true,
		WorkerConcurrency:      2,
		RequeueBaseDelayMS:     10,
		RequeueMaxDelaySeconds: 1,
		MaxCandidatesLimit:     500,
		QueryLogPath:           filepath.Join(t.TempDir(), "query.log"),
	}
}

func testDeps(t *testing.T) (*Dependencies, sqlmock.Sqlmock, *memory.Index) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	c, err := cache.New[*document.Document](10)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	broker := queue.NewBroker(3, nil)
	t.Cleanup(broker.Stop)

	idx := memory.New(3)
	deps := &Dependencies{
		DB:        db,
		Documents: newMemoryDocs(),
		Index:     idx,
		Embedder:  embedding.New(wordModel{}, embedding.Options{BatchSize: 8, Dimension: 3}),
		Publisher: broker,
		Source:    broker.Subscribe(config.TopicCVCreated),
		Jobs:      job.NewService(job.NewPostgresRepo(db), broker, nil),
		Cache:     c,
	}
	broker.SetDeadLetter(deps.Jobs)
	return deps, mock, idx
}

func TestNew_Routes(t *testing.T) {
	deps, _, _ := testDeps(t)
	a, err := New(testConfig(t), deps)
	require.NoError(t, err)
	require.NotNil(t, a.Pool)

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents/latest", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNew_WorkerDisabled(t *testing.T) {
	deps, _, _ := testDeps(t)
	cfg := testConfig(t)
	cfg.EnableWorker = false

	a, err := New(cfg, deps)
	require.NoError(t, err)
	assert.Nil(t, a.Pool)
}

func TestNew_BadChunkPolicy(t *testing.T) {
	deps, _, _ := testDeps(t)
	cfg := testConfig(t)
	cfg.ChunkPolicyPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(cfg, deps)
	assert.Error(t, err)
}

func TestApp_IngestAndRank(t *testing.T) {
	deps, mock, idx := testDeps(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, min_score, max_candidates, top_k, raw_candidates FROM settings WHERE id = 1`)).
		WillReturnError(sql.ErrNoRows)

	a, err := New(testConfig(t), deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	post := func(path string, body interface{}) *httptest.ResponseRecorder {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b)))
		return w
	}

	w := post("/documents", map[string]interface{}{
		"sections": map[string]interface{}{
			"summary":    "Go engineer",
			"experience": []interface{}{"Built Go queues", "Led design reviews"},
		},
		"text": "Go engineer. Built Go queues. Led design reviews.",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = post("/documents", map[string]interface{}{
		"sections": map[string]interface{}{"summary": "Python developer"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	require.Eventually(t, func() bool {
		n, _ := idx.Count(context.Background())
		return n == 4
	}, 2*time.Second, 10*time.Millisecond)

	w = post("/search/documents", map[string]interface{}{"jd_text": "Go queues", "top_k": 1})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []struct {
			DocID         string  `json:"doc_id"`
			Score         float32 `json:"score"`
			MatchedChunks int     `json:"matched_chunks"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 3, resp.Data[0].MatchedChunks)

	latest, err := a.Documents.Latest(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, resp.Data[0].DocID, latest.ID)
}
