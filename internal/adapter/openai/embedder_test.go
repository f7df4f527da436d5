package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailorcv/backend/internal/fault"
)

func TestModel_EmbedBatch(t *testing.T) {
	var got map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose; the adapter restores input order by index.
		w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0.4,0.5,0.6]},
			{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}
		],"usage":{"prompt_tokens":4,"total_tokens":4}}`))
	}))
	defer ts.Close()

	m, err := NewModel(Config{APIKey: "k", BaseURL: ts.URL, Model: "text-embedding-3-small", Dimensions: 3})
	require.NoError(t, err)

	vecs, err := m.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vecs[0])
	assert.Equal(t, []float32{0.4, 0.5, 0.6}, vecs[1])

	assert.Equal(t, "text-embedding-3-small", got["model"])
	assert.Equal(t, float64(3), got["dimensions"])
}

func TestModel_EmbedBatch_DimensionsOnlyForSupportingModels(t *testing.T) {
	tests := []struct {
		model    string
		wantDims bool
	}{
		{"text-embedding-3-small", true},
		{"text-embedding-3-large", true},
		{"text-embedding-ada-002", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			var got map[string]interface{}
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewDecoder(r.Body).Decode(&got)
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}]}`))
			}))
			defer ts.Close()

			m, err := NewModel(Config{APIKey: "k", BaseURL: ts.URL, Model: tt.model, Dimensions: 3})
			require.NoError(t, err)

			_, err = m.EmbedBatch(context.Background(), []string{"a"})
			require.NoError(t, err)

			_, sent := got["dimensions"]
			assert.Equal(t, tt.wantDims, sent)
		})
	}
}

func TestModel_EmbedBatch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   fault.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, fault.KindTransient},
		{"server error", http.StatusBadGateway, fault.KindTransient},
		{"bad request", http.StatusBadRequest, fault.KindMalformed},
		{"unauthorized", http.StatusUnauthorized, fault.KindConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			}))
			defer ts.Close()

			m, err := NewModel(Config{APIKey: "k", BaseURL: ts.URL})
			require.NoError(t, err)

			_, err = m.EmbedBatch(context.Background(), []string{"a"})
			assert.Equal(t, tt.want, fault.KindOf(err))
		})
	}
}

func TestModel_EmbedBatch_CountMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1]}]}`))
	}))
	defer ts.Close()

	m, err := NewModel(Config{APIKey: "k", BaseURL: ts.URL})
	require.NoError(t, err)

	_, err = m.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestNewModel(t *testing.T) {
	_, err := NewModel(Config{})
	assert.Equal(t, fault.KindConfig, fault.KindOf(err))

	m, err := NewModel(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, string(goopenai.SmallEmbedding3), m.Name())
}

func TestClassify_RequestError(t *testing.T) {
	err := classify(&goopenai.RequestError{HTTPStatusCode: 503, Err: assert.AnError})
	assert.Equal(t, fault.KindTransient, fault.KindOf(err))
}
