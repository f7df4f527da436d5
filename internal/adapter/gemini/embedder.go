package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tailorcv/backend/internal/embedding"
	"tailorcv/backend/internal/fault"
)

const op = "gemini.EmbedBatch"

// Model embeds text with a Gemini embedding model. One client is created at
// startup and shared by every worker.
type Model struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

var _ embedding.Model = (*Model)(nil)

func NewModel(ctx context.Context, apiKey, model string, timeout time.Duration, opts ...option.ClientOption) (*Model, error) {
	if apiKey == "" {
		return nil, fault.New(fault.KindConfig, "gemini.NewModel", errors.New("gemini api key not configured"))
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Model{client: client, model: model, timeout: timeout}, nil
}

func (m *Model) Name() string { return m.model }

func (m *Model) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	em := m.client.EmbeddingModel(m.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "model", m.model, "batch", len(texts), "error", err)
		return nil, classify(err)
	}

	out := make([][]float32, 0, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fault.New(fault.KindUnknown, op, fmt.Errorf("empty embedding at index %d", i))
		}
		out = append(out, e.Values)
	}
	return out, nil
}

func (m *Model) Close() error {
	return m.client.Close()
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return embedding.ClassifyHTTP(op, gerr.Code, err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
			return fault.Transient(op, err)
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
			return fault.Malformed(op, err)
		case codes.Unauthenticated, codes.PermissionDenied, codes.NotFound:
			return fault.New(fault.KindConfig, op, err)
		}
	}

	return fault.New(fault.KindOf(err), op, err)
}
