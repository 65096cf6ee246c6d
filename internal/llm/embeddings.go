package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/taleteller/taleteller/internal/config"
)

// embedBatchSize caps how many texts go into one embeddings request.
const embedBatchSize = 64

// Embedder turns text into fixed-dimension vectors for the retrieval index.
type Embedder struct {
	api    openai.Client
	model  string
	dim    int
	logger *slog.Logger
}

// NewEmbedder builds an embedder from the configured embedding model. It
// uses the same provider as the summarize route, so a single OpenAI-compatible
// endpoint serves both chat and embeddings.
func NewEmbedder(cfg *config.Config, logger *slog.Logger) (*Embedder, error) {
	_, _, provider, err := cfg.LLM.ResolveChatRoute("summarize")
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: 120 * time.Second}),
	}
	if provider.APIKeyEnv != "" {
		apiKey := os.Getenv(provider.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("%w: embeddings need %s", config.ErrMissingAPIKey, provider.APIKeyEnv)
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL := config.ResolveEnvVars(provider.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Embedder{
		api:    openai.NewClient(opts...),
		model:  cfg.LLM.EmbeddingModel,
		dim:    cfg.LLM.EmbeddingDim,
		logger: logger.With("component", "embedder", "model", cfg.LLM.EmbeddingModel),
	}, nil
}

// Dim is the vector dimension the embedder produces.
func (e *Embedder) Dim() int {
	return e.dim
}

// Embed returns one vector per input text, in input order. Requests are
// issued in batches.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		var vectors [][]float32
		err := retry.Do(func() error {
			resp, err := e.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
				Model: openai.EmbeddingModel(e.model),
				Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
			})
			if err != nil {
				return err
			}
			if len(resp.Data) != len(batch) {
				return fmt.Errorf("embeddings response has %d vectors for %d inputs", len(resp.Data), len(batch))
			}
			vectors = vectors[:0]
			for _, item := range resp.Data {
				vec := make([]float32, len(item.Embedding))
				for i, v := range item.Embedding {
					vec[i] = float32(v)
				}
				if e.dim > 0 && len(vec) != e.dim {
					return fmt.Errorf("embedding has dimension %d, expected %d", len(vec), e.dim)
				}
				vectors = append(vectors, vec)
			}
			return nil
		},
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(backoffDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				e.logger.Warn("retrying embeddings call", "attempt", n+1, "error", err.Error())
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d): %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}
