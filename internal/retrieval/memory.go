package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ VectorIndex = (*MemoryIndex)(nil)

// MemoryIndex is an in-process VectorIndex. It keeps its own copy of every
// embedding, so callers may reuse their slices after Insert returns.
type MemoryIndex struct {
	mu      sync.RWMutex
	records []Record
	ids     map[string]struct{}
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{ids: make(map[string]struct{})}
}

// Insert validates every record before adding any.
func (m *MemoryIndex) Insert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.ID == "" || r.DocID == "" {
			return fmt.Errorf("record missing id or document id")
		}
		if len(r.Embedding) == 0 {
			return fmt.Errorf("record %s has no embedding", r.ID)
		}
		if _, dup := m.ids[r.ID]; dup {
			return fmt.Errorf("inserting chunk %s: duplicate id", r.ID)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("inserting chunk %s: duplicate id", r.ID)
		}
		seen[r.ID] = struct{}{}
	}

	now := time.Now().UTC()
	for _, r := range records {
		r.Embedding = append([]float32(nil), r.Embedding...)
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		m.records = append(m.records, r)
		m.ids[r.ID] = struct{}{}
	}
	return nil
}

// Search is a brute-force scan over all records.
func (m *MemoryIndex) Search(_ context.Context, vector []float32, k int) ([]ScoredRecord, error) {
	queryNorm := norm(vector)
	if k <= 0 || queryNorm == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	best := &topK{k: k}
	for i, r := range m.records {
		best.offer(candidate{pos: int64(i), score: similarity(vector, r.Embedding, queryNorm)})
	}

	winners := best.sorted()
	results := make([]ScoredRecord, len(winners))
	for i, c := range winners {
		r := m.records[c.pos]
		r.Embedding = nil
		results[i] = ScoredRecord{Record: r, Score: c.score}
	}
	return results, nil
}

// DeleteDocument removes every chunk of docID, keeping the order of the rest.
func (m *MemoryIndex) DeleteDocument(_ context.Context, docID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	removed := 0
	for _, r := range m.records {
		if r.DocID == docID {
			delete(m.ids, r.ID)
			removed++
			continue
		}
		kept = append(kept, r)
	}
	clear(m.records[len(kept):])
	m.records = kept
	return removed, nil
}

// Count returns the number of stored chunks.
func (m *MemoryIndex) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}
