package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tailorcv/backend/internal/fault"
)

func TestModel_EmbedBatch(t *testing.T) {
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embeddings": []map[string]interface{}{
				{"values": []float32{0.1, 0.2, 0.3}},
				{"values": []float32{0.4, 0.5, 0.6}},
			},
		})
	}))
	defer ts.Close()

	ctx := context.Background()
	m, err := NewModel(ctx, "test-key", "text-embedding-004", 5*time.Second, option.WithEndpoint(ts.URL))
	require.NoError(t, err)
	defer m.Close()

	vecs, err := m.EmbedBatch(ctx, []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(0.1), vecs[0][0])
	assert.Equal(t, float32(0.6), vecs[1][2])
	assert.Equal(t, "text-embedding-004", m.Name())

	require.NotEmpty(t, paths)
	assert.True(t, strings.HasSuffix(paths[0], ":batchEmbedContents"), paths[0])
}

func TestModel_EmbedBatch_EmptyValues(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"embeddings":[{"values":[]}]}`))
	}))
	defer ts.Close()

	ctx := context.Background()
	m, err := NewModel(ctx, "test-key", "text-embedding-004", 0, option.WithEndpoint(ts.URL))
	require.NoError(t, err)

	_, err = m.EmbedBatch(ctx, []string{"x"})
	assert.Error(t, err)
}

func TestModel_EmbedBatch_ProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"bad input","status":"INVALID_ARGUMENT"}}`))
	}))
	defer ts.Close()

	ctx := context.Background()
	m, err := NewModel(ctx, "test-key", "text-embedding-004", 0, option.WithEndpoint(ts.URL))
	require.NoError(t, err)

	vecs, err := m.EmbedBatch(ctx, []string{"x"})
	assert.Error(t, err)
	assert.Nil(t, vecs)
}

func TestNewModel_MissingKey(t *testing.T) {
	_, err := NewModel(context.Background(), "", "text-embedding-004", 0)
	assert.Equal(t, fault.KindConfig, fault.KindOf(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{"http 429", &googleapi.Error{Code: 429, Message: "quota"}, fault.KindTransient},
		{"http 503 wrapped", fmt.Errorf("call: %w", &googleapi.Error{Code: 503}), fault.KindTransient},
		{"http 413", &googleapi.Error{Code: 413}, fault.KindResourceExhausted},
		{"http 400", &googleapi.Error{Code: 400}, fault.KindMalformed},
		{"http 403", &googleapi.Error{Code: 403}, fault.KindConfig},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), fault.KindTransient},
		{"grpc quota", status.Error(codes.ResourceExhausted, "quota"), fault.KindTransient},
		{"grpc invalid", status.Error(codes.InvalidArgument, "too long"), fault.KindMalformed},
		{"grpc unauthenticated", status.Error(codes.Unauthenticated, "key"), fault.KindConfig},
		{"deadline", context.DeadlineExceeded, fault.KindTransient},
		{"other", errors.New("weird"), fault.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fault.KindOf(classify(tt.err)))
		})
	}
}
