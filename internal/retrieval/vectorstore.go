package retrieval

import (
	"context"
	"time"
)

// VectorIndex stores chunk embeddings and answers similarity queries.
//
// Search returns results ordered by descending score with ties broken by
// insertion order. Scores are cosine similarity clamped to [0,1].
type VectorIndex interface {
	// Insert adds records. Either every record is written or none is.
	Insert(ctx context.Context, records []Record) error

	// Search returns the top-K records most similar to vector.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// DeleteDocument removes every chunk of a document and returns how many
	// were removed.
	DeleteDocument(ctx context.Context, docID string) (int, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
}

// Record is one indexed chunk.
type Record struct {
	ID        string
	DocID     string
	Source    string
	Seq       int
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
