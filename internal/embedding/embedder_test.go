package embedding_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tailorcv/backend/internal/embedding"
	"tailorcv/backend/internal/fault"
)

type MockModel struct {
	mock.Mock
}

func (m *MockModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockModel) Name() string { return "mock" }

func vecs(n, dim int, seed float32) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		v[0] = seed + float32(i)
		out[i] = v
	}
	return out
}

func TestEmbedder_Embed_Batches(t *testing.T) {
	model := new(MockModel)
	e := embedding.New(model, embedding.Options{BatchSize: 2, Dimension: 3})
	ctx := context.Background()

	model.On("EmbedBatch", ctx, []string{"a", "b"}).Return(vecs(2, 3, 0), nil).Once()
	model.On("EmbedBatch", ctx, []string{"c", "d"}).Return(vecs(2, 3, 10), nil).Once()
	model.On("EmbedBatch", ctx, []string{"e"}).Return(vecs(1, 3, 20), nil).Once()

	out, err := e.Embed(ctx, []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.Equal(t, float32(0), out[0][0])
	assert.Equal(t, float32(1), out[1][0])
	assert.Equal(t, float32(10), out[2][0])
	assert.Equal(t, float32(20), out[4][0])
	model.AssertExpectations(t)
}

func TestEmbedder_Embed_BatchFailureFailsWholeCall(t *testing.T) {
	model := new(MockModel)
	e := embedding.New(model, embedding.Options{BatchSize: 1, Dimension: 3})
	ctx := context.Background()

	model.On("EmbedBatch", ctx, []string{"a"}).Return(vecs(1, 3, 0), nil).Once()
	model.On("EmbedBatch", ctx, []string{"b"}).Return(nil, fault.Transient("mock", errors.New("503"))).Once()

	out, err := e.Embed(ctx, []string{"a", "b", "c"})
	assert.Nil(t, out)
	assert.Equal(t, fault.KindTransient, fault.KindOf(err))
	model.AssertNotCalled(t, "EmbedBatch", ctx, []string{"c"})
}

func TestEmbedder_Embed_DimensionMismatch(t *testing.T) {
	model := new(MockModel)
	e := embedding.New(model, embedding.Options{BatchSize: 4, Dimension: 3})
	ctx := context.Background()

	model.On("EmbedBatch", ctx, []string{"a"}).Return(vecs(1, 4, 0), nil).Once()

	_, err := e.Embed(ctx, []string{"a"})
	assert.Equal(t, fault.KindConfig, fault.KindOf(err))
}

func TestEmbedder_Embed_CountMismatch(t *testing.T) {
	model := new(MockModel)
	e := embedding.New(model, embedding.Options{BatchSize: 4, Dimension: 3})
	ctx := context.Background()

	model.On("EmbedBatch", ctx, []string{"a", "b"}).Return(vecs(1, 3, 0), nil).Once()

	_, err := e.Embed(ctx, []string{"a", "b"})
	assert.Error(t, err)
}

func TestEmbedder_Embed_InputChecks(t *testing.T) {
	model := new(MockModel)
	e := embedding.New(model, embedding.Options{BatchSize: 4, Dimension: 3, MaxInputBytes: 10})
	ctx := context.Background()

	_, err := e.Embed(ctx, []string{strings.Repeat("x", 11)})
	assert.Equal(t, fault.KindResourceExhausted, fault.KindOf(err))

	_, err = e.Embed(ctx, []string{""})
	assert.Equal(t, fault.KindMalformed, fault.KindOf(err))

	out, err := e.Embed(ctx, nil)
	assert.NoError(t, err)
	assert.Empty(t, out)

	model.AssertNotCalled(t, "EmbedBatch", mock.Anything, mock.Anything)
}

func TestEmbedder_EmbedQuery(t *testing.T) {
	model := new(MockModel)
	e := embedding.New(model, embedding.Options{BatchSize: 4, Dimension: 3})
	ctx := context.Background()

	model.On("EmbedBatch", ctx, []string{"golang jd"}).Return([][]float32{{1, 0, 0}}, nil).Once()

	v, err := e.EmbedQuery(ctx, "golang jd")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, v)
}

func TestEmbedder_Probe(t *testing.T) {
	model := new(MockModel)
	e := embedding.New(model, embedding.Options{BatchSize: 4, Dimension: 3})
	ctx := context.Background()

	model.On("EmbedBatch", ctx, []string{"dimension probe"}).Return(vecs(1, 5, 0), nil).Once()

	dim, err := e.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, dim)
	assert.Equal(t, 3, e.Dimension())
}

func TestEmbedder_RateLimitHonoursContext(t *testing.T) {
	model := new(MockModel)
	e := embedding.New(model, embedding.Options{BatchSize: 1, Dimension: 3, RateLimit: 0.001})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	model.On("EmbedBatch", mock.Anything, []string{"a"}).Return(vecs(1, 3, 0), nil).Once()

	// The first call consumes the single burst token; the second must wait far
	// longer than the context allows.
	_, err := e.Embed(ctx, []string{"a", "b"})
	assert.Equal(t, fault.KindTransient, fault.KindOf(err))
}
