package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tailorcv/backend/features/document"
	"tailorcv/backend/internal/chunker"
	"tailorcv/backend/internal/fault"
	"tailorcv/backend/internal/queue"
	"tailorcv/backend/internal/vector"
)

func sampleDoc() *document.Document {
	return &document.Document{
		ID: "abc123",
		Sections: map[string]any{
			"summary":    "Backend engineer.",
			"experience": []any{"Built queues", "Ran databases"},
		},
	}
}

func event(t *testing.T, docID string) []byte {
	body, err := queue.EncodeEvent(queue.Event{DocID: docID})
	require.NoError(t, err)
	return body
}

func newTestProcessor(docs DocumentSource, e Embedder, w VectorWriter) *Processor {
	return NewProcessor(docs, chunker.New(chunker.DefaultPolicy()), e, w, ProcessorConfig{
		RequeueBaseDelay: 10 * time.Millisecond,
		RequeueMaxDelay:  100 * time.Millisecond,
	})
}

func TestProcessor_Success(t *testing.T) {
	docs := new(MockDocs)
	emb := new(MockEmbedder)
	w := new(MockWriter)

	docs.On("Get", mock.Anything, "abc123").Return(sampleDoc(), nil)
	emb.On("Embed", mock.Anything, []string{"Built queues", "Ran databases", "Backend engineer."}).
		Return([][]float32{{1, 0}, {0, 1}, {1, 1}}, nil)
	w.On("Upsert", mock.Anything, mock.MatchedBy(func(recs []vector.Record) bool {
		if len(recs) != 3 {
			return false
		}
		return recs[0].ID == "abc123_experience_0" &&
			recs[1].ID == "abc123_experience_1" &&
			recs[2].ID == "abc123_summary_0" &&
			recs[2].Metadata[vector.MetaDocID] == "abc123" &&
			recs[2].Metadata[vector.MetaText] == "Backend engineer."
	})).Return(nil)

	p := newTestProcessor(docs, emb, w)
	res := p.Process(context.Background(), &fakeDelivery{body: event(t, "abc123"), attempts: 1})

	assert.Equal(t, queue.Ack, res.Outcome)
	assert.NoError(t, res.Err)
	docs.AssertExpectations(t)
	emb.AssertExpectations(t)
	w.AssertExpectations(t)
}

func TestProcessor_MalformedEvent(t *testing.T) {
	p := newTestProcessor(new(MockDocs), new(MockEmbedder), new(MockWriter))

	for _, body := range []string{`not json`, `{}`, `{"doc_id":"  "}`} {
		res := p.Process(context.Background(), &fakeDelivery{body: []byte(body), attempts: 1})
		assert.Equal(t, queue.Discard, res.Outcome, body)
		assert.Equal(t, fault.KindMalformed, fault.KindOf(res.Err), body)
	}
}

func TestProcessor_DocumentNotFound(t *testing.T) {
	docs := new(MockDocs)
	docs.On("Get", mock.Anything, "gone").Return(nil, document.ErrNotFound)

	p := newTestProcessor(docs, new(MockEmbedder), new(MockWriter))
	res := p.Process(context.Background(), &fakeDelivery{body: event(t, "gone"), attempts: 1})

	assert.Equal(t, queue.Discard, res.Outcome)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(res.Err))
}

func TestProcessor_NoChunks(t *testing.T) {
	docs := new(MockDocs)
	docs.On("Get", mock.Anything, "empty").Return(&document.Document{
		ID:       "empty",
		Sections: map[string]any{"summary": "   "},
	}, nil)
	emb := new(MockEmbedder)
	w := new(MockWriter)

	p := newTestProcessor(docs, emb, w)
	res := p.Process(context.Background(), &fakeDelivery{body: event(t, "empty"), attempts: 1})

	assert.Equal(t, queue.Ack, res.Outcome)
	emb.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	w.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestProcessor_FailureOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome queue.Outcome
	}{
		{"transient", fault.Transient("embed", errors.New("429")), queue.Requeue},
		{"unknown", errors.New("boom"), queue.Requeue},
		{"deadline", context.DeadlineExceeded, queue.Requeue},
		{"resource exhausted", fault.ResourceExhausted("embed", errors.New("too long")), queue.Discard},
		{"malformed", fault.Malformed("embed", errors.New("bad input")), queue.Discard},
		{"config", fault.New(fault.KindConfig, "embed", errors.New("bad key")), queue.Discard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := new(MockDocs)
			docs.On("Get", mock.Anything, "abc123").Return(sampleDoc(), nil)
			emb := new(MockEmbedder)
			emb.On("Embed", mock.Anything, mock.Anything).Return(nil, tt.err)
			w := new(MockWriter)

			p := newTestProcessor(docs, emb, w)
			res := p.Process(context.Background(), &fakeDelivery{body: event(t, "abc123"), attempts: 2})

			assert.Equal(t, tt.outcome, res.Outcome)
			assert.ErrorIs(t, res.Err, tt.err)
			if tt.outcome == queue.Requeue {
				assert.Greater(t, res.Delay, time.Duration(0))
				assert.LessOrEqual(t, res.Delay, 125*time.Millisecond)
			}
			w.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
		})
	}
}

func TestProcessor_UpsertFailureRequeues(t *testing.T) {
	docs := new(MockDocs)
	docs.On("Get", mock.Anything, "abc123").Return(sampleDoc(), nil)
	emb := new(MockEmbedder)
	emb.On("Embed", mock.Anything, mock.Anything).Return([][]float32{{1}, {1}, {1}}, nil)
	w := new(MockWriter)
	w.On("Upsert", mock.Anything, mock.Anything).Return(fault.Transient("weaviate.Upsert", errors.New("503")))

	p := newTestProcessor(docs, emb, w)
	res := p.Process(context.Background(), &fakeDelivery{body: event(t, "abc123"), attempts: 1})

	assert.Equal(t, queue.Requeue, res.Outcome)
	assert.Contains(t, res.Err.Error(), "upsert vectors")
}

func TestProcessor_FetchFailureRequeues(t *testing.T) {
	docs := new(MockDocs)
	docs.On("Get", mock.Anything, "abc123").Return(nil, fault.Transient("postgres", errors.New("conn reset")))

	p := newTestProcessor(docs, new(MockEmbedder), new(MockWriter))
	res := p.Process(context.Background(), &fakeDelivery{body: event(t, "abc123"), attempts: 1})

	assert.Equal(t, queue.Requeue, res.Outcome)
}
