package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var _ VectorIndex = (*SQLiteIndex)(nil)

// SQLiteIndex is a VectorIndex over the kb_chunks table using brute-force
// cosine similarity. The table is created by the storage migrations.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps an existing *sql.DB.
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// Insert writes all records in a single transaction.
func (s *SQLiteIndex) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r.ID == "" || r.DocID == "" {
			return fmt.Errorf("record missing id or document id")
		}
		if len(r.Embedding) == 0 {
			return fmt.Errorf("record %s has no embedding", r.ID)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kb_chunks (id, doc_id, source, chunk_index, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.DocID, r.Source, r.Seq, r.Text,
			encodeFloat32s(r.Embedding), createdAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// Search scans id and embedding only, then loads the winners. Returned
// records carry no embedding.
func (s *SQLiteIndex) Search(ctx context.Context, vector []float32, k int) ([]ScoredRecord, error) {
	queryNorm := norm(vector)
	if k <= 0 || queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT seq_no, embedding FROM kb_chunks ORDER BY seq_no`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	best := &topK{k: k}
	var buf []float32
	for rows.Next() {
		var seq int64
		var blob []byte
		if err := rows.Scan(&seq, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for row %d: %w", seq, err)
		}
		best.offer(candidate{pos: seq, score: similarity(vector, buf, queryNorm)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	winners := best.sorted()
	if len(winners) == 0 {
		return nil, nil
	}

	args := make([]any, len(winners))
	for i, c := range winners {
		args[i] = c.pos
	}
	fullRows, err := s.db.QueryContext(ctx, `
		SELECT seq_no, id, doc_id, source, chunk_index, text_chunk, created_at
		FROM kb_chunks WHERE seq_no IN (?`+strings.Repeat(",?", len(winners)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	bySeq := make(map[int64]Record, len(winners))
	for fullRows.Next() {
		var seq int64
		var r Record
		var createdAt string
		if err := fullRows.Scan(&seq, &r.ID, &r.DocID, &r.Source, &r.Seq, &r.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
		}
		bySeq[seq] = r
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}

	results := make([]ScoredRecord, 0, len(winners))
	for _, c := range winners {
		r, ok := bySeq[c.pos]
		if !ok {
			// Deleted between the scan and the fetch.
			continue
		}
		results = append(results, ScoredRecord{Record: r, Score: c.score})
	}
	return results, nil
}

// DeleteDocument removes every chunk of docID.
func (s *SQLiteIndex) DeleteDocument(ctx context.Context, docID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kb_chunks WHERE doc_id = ?`, docID)
	if err != nil {
		return 0, fmt.Errorf("deleting document %s: %w", docID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Count returns the number of stored chunks.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kb_chunks`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
