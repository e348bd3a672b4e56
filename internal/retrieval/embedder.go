package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// EmbeddingModel produces an embedding for a text with a named model.
// *ollama.Client satisfies it.
type EmbeddingModel interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// Embedder binds an EmbeddingModel to a model name.
type Embedder struct {
	model EmbeddingModel
	name  string
}

// NewEmbedder creates an Embedder using m with the given model name.
func NewEmbedder(m EmbeddingModel, name string) *Embedder {
	return &Embedder{model: m, name: name}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.model.Embed(ctx, e.name, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding text: model %s returned an empty vector", e.name)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently, in
// input order. Returns nil (not error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
