package retrieval

import (
	"context"
)

// Retriever combines embedding and vector search to find relevant context.
type Retriever struct {
	embedder *Embedder
	index    VectorIndex
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorIndex.
func NewRetriever(embedder *Embedder, index VectorIndex) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve embeds the query and returns the top-K most similar chunks.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]ScoredRecord, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.index.Search(ctx, vec, topK)
}

// Index returns the underlying vector index.
func (r *Retriever) Index() VectorIndex { return r.index }

// Embedder returns the embedder used for queries.
func (r *Retriever) Embedder() *Embedder { return r.embedder }
