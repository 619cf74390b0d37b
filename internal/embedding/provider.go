// Package embedding is the pluggable embedding adapter (C4): it turns a
// symbol's signature and doc comment into a vector, and turns a block of
// free text (a diff, a prior comment) into the same vector space so the
// store's cosine search is comparing like with like. Provider selection
// is bring-your-own-key: whichever API key is present in the environment
// wins, and a no-op provider keeps the rest of the system running when
// none is configured.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sashabaranov/go-openai"
)

// Provider names the embedding backend in use.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderNone   Provider = "none"
)

// Adapter embeds text into a fixed-dimension vector.
type Adapter interface {
	Provider() Provider
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// NewAdapter selects a backend based on configured API keys, mirroring
// internal/llm.NewReviewModel's provider-selection order.
func NewAdapter() Adapter {
	logger := slog.Default().With("component", "embedding")

	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		logger.Warn("no embedding provider configured, falling back to no-op adapter")
		return &noopAdapter{}
	}

	logger.Info("openai embedding adapter initialized", "model", openai.SmallEmbedding3)
	return &openAIAdapter{
		client: openai.NewClient(key),
		model:  openai.SmallEmbedding3,
		dim:    1536,
		logger: logger,
	}
}

type openAIAdapter struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dim    int
	logger *slog.Logger
}

func (a *openAIAdapter) Provider() Provider { return ProviderOpenAI }
func (a *openAIAdapter) Dimension() int     { return a.dim }

func (a *openAIAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: a.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: openai create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: openai returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	a.logger.Debug("embedded batch", "count", len(texts), "tokens", resp.Usage.TotalTokens)
	return out, nil
}

// noopAdapter is used when no API key is configured. It returns zero
// vectors of a fixed dimension so callers that depend on a consistent
// EmbeddingDim still work, at the cost of every similarity search
// degenerating to ties.
type noopAdapter struct{}

func (a *noopAdapter) Provider() Provider { return ProviderNone }
func (a *noopAdapter) Dimension() int     { return 8 }

func (a *noopAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, 8)
	}
	return out, nil
}
