package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"tailorcv/backend/internal/embedding"
	"tailorcv/backend/internal/fault"
)

const op = "openai.EmbedBatch"

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions asks text-embedding-3 models for shortened vectors. Zero
	// keeps the model default; other models never receive it.
	Dimensions int
	Timeout    time.Duration
}

type Model struct {
	client *goopenai.Client
	cfg    Config
}

var _ embedding.Model = (*Model)(nil)

func NewModel(cfg Config) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, fault.New(fault.KindConfig, "openai.NewModel", errors.New("openai api key not configured"))
	}
	if cfg.Model == "" {
		cfg.Model = string(goopenai.SmallEmbedding3)
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Model{client: goopenai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

func (m *Model) Name() string { return m.cfg.Model }

func (m *Model) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	req := goopenai.EmbeddingRequestStrings{
		Input: texts,
		Model: goopenai.EmbeddingModel(m.cfg.Model),
	}
	if supportsDimensions(m.cfg.Model) {
		req.Dimensions = m.cfg.Dimensions
	}

	resp, err := m.client.CreateEmbeddings(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "model", m.cfg.Model, "batch", len(texts), "error", err)
		return nil, classify(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fault.New(fault.KindUnknown, op, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

// supportsDimensions reports whether model accepts the dimensions parameter.
// Older models such as text-embedding-ada-002 reject it with a 400.
func supportsDimensions(model string) bool {
	return strings.HasPrefix(model, "text-embedding-3-")
}

func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return embedding.ClassifyHTTP(op, apiErr.HTTPStatusCode, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return embedding.ClassifyHTTP(op, reqErr.HTTPStatusCode, err)
	}
	return fault.New(fault.KindOf(err), op, err)
}
