// Package pipeline implements retrieval-augmented generation: document
// ingestion into the vector index and question answering over it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/aigw/internal/backend"
	"github.com/kalambet/aigw/internal/chunker"
	"github.com/kalambet/aigw/internal/composer"
	"github.com/kalambet/aigw/internal/extract"
	"github.com/kalambet/aigw/internal/retrieval"
	"github.com/kalambet/aigw/internal/router"
)

// Defaults for retrieval.
const (
	DefaultTopK      = 3
	DefaultThreshold = 0.4
)

// Ingestion stages reported by IngestionError.
const (
	StageExtract = "extract"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageIndex   = "index"
)

// Document is an uploaded file awaiting ingestion. It is never persisted
// whole.
type Document struct {
	ID          string
	Filename    string
	ContentType string
	Data        []byte
}

// IngestionError reports a document that could not be indexed. Nothing of
// the document is in the index when it is returned.
type IngestionError struct {
	DocID string
	Stage string
	Err   error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingesting document %s: %s: %v", e.DocID, e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// Retrieval is the thresholded result of a similarity search. Discarded
// holds the below-threshold hits for diagnostics only.
type Retrieval struct {
	Accepted  []retrieval.ScoredRecord
	Discarded []retrieval.ScoredRecord
}

// Miss reports whether no chunk cleared the threshold.
func (r Retrieval) Miss() bool { return len(r.Accepted) == 0 }

// Metrics receives pipeline observations.
type Metrics interface {
	RecordIngest(chunks int, err error)
	RecordRetrieval(accepted, discarded int)
}

type nopMetrics struct{}

func (nopMetrics) RecordIngest(int, error)  {}
func (nopMetrics) RecordRetrieval(int, int) {}

// Config holds pipeline tuning. Zero values select the defaults. Threshold
// is the minimum similarity a chunk needs to be used as context: nil selects
// DefaultThreshold and zero accepts every hit.
type Config struct {
	TopK      int
	Threshold *float32
	Logger    *slog.Logger
	Metrics   Metrics
}

// Pipeline wires chunking, embedding, the vector index and generation.
type Pipeline struct {
	chunker   *chunker.Chunker
	retriever *retrieval.Retriever
	composer  *composer.Composer
	router    *router.Router

	topK      int
	threshold float32
	logger    *slog.Logger
	metrics   Metrics
}

// New creates a Pipeline.
func New(ch *chunker.Chunker, r *retrieval.Retriever, comp *composer.Composer, rt *router.Router, cfg Config) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	threshold := float32(DefaultThreshold)
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	return &Pipeline{
		chunker:   ch,
		retriever: r,
		composer:  comp,
		router:    rt,
		topK:      cfg.TopK,
		threshold: threshold,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Ingest extracts, chunks and embeds doc, then writes every chunk to the
// index in one insert. It returns the number of chunks written. A doc
// without an ID is assigned one.
func (p *Pipeline) Ingest(ctx context.Context, doc Document) (n int, err error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	start := time.Now()
	defer func() { p.metrics.RecordIngest(n, err) }()

	fail := func(stage string, err error) (int, error) {
		p.logger.Warn("ingestion failed", "doc_id", doc.ID, "file", doc.Filename, "stage", stage, "error", err)
		return 0, &IngestionError{DocID: doc.ID, Stage: stage, Err: err}
	}

	text, err := extract.Text(doc.Filename, doc.ContentType, doc.Data)
	if err != nil {
		return fail(StageExtract, err)
	}

	chunks := p.chunker.Split(text)
	if len(chunks) == 0 {
		return fail(StageChunk, errors.New("document produced no chunks"))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := p.retriever.Embedder().EmbedBatch(ctx, texts)
	if err != nil {
		return fail(StageEmbed, err)
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(chunks))
	for i, c := range chunks {
		records[i] = retrieval.Record{
			ID:        doc.ID + "-" + strconv.Itoa(c.Seq),
			DocID:     doc.ID,
			Source:    doc.Filename,
			Seq:       c.Seq,
			Text:      c.Text,
			Embedding: vecs[i],
			CreatedAt: now,
		}
	}
	if err := p.retriever.Index().Insert(ctx, records); err != nil {
		return fail(StageIndex, err)
	}

	p.logger.Info("document ingested",
		"doc_id", doc.ID,
		"file", doc.Filename,
		"chunks", len(records),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return len(records), nil
}

// Retrieve searches the index for question and splits the hits at the
// threshold. Discarded hits are logged at debug level.
func (p *Pipeline) Retrieve(ctx context.Context, question string) (Retrieval, error) {
	hits, err := p.retriever.Retrieve(ctx, question, p.topK)
	if err != nil {
		return Retrieval{}, fmt.Errorf("retrieving context: %w", err)
	}

	var res Retrieval
	for _, h := range hits {
		if h.Score >= p.threshold {
			res.Accepted = append(res.Accepted, h)
			continue
		}
		res.Discarded = append(res.Discarded, h)
		p.logger.Debug("chunk below threshold",
			"chunk_id", h.ID,
			"score", h.Score,
			"threshold", p.threshold,
		)
	}
	p.metrics.RecordRetrieval(len(res.Accepted), len(res.Discarded))
	return res, nil
}

// Prompt retrieves context for question and builds the augmented request.
// A retrieval miss yields a request with empty context.
func (p *Pipeline) Prompt(ctx context.Context, question string) (backend.Request, Retrieval, error) {
	res, err := p.Retrieve(ctx, question)
	if err != nil {
		return backend.Request{}, res, err
	}
	return p.composer.Compose(res.Accepted, question), res, nil
}

// Answer generates an answer through the fallback router.
func (p *Pipeline) Answer(ctx context.Context, question string, backends []backend.Backend) (router.Outcome, error) {
	req, _, err := p.Prompt(ctx, question)
	if err != nil {
		return router.Outcome{}, err
	}
	return p.router.Generate(ctx, req, backends)
}

// AnswerStream streams an answer from a single backend. There is no
// fallback once a stream exists; a failure mid-stream surfaces from Recv.
func (p *Pipeline) AnswerStream(ctx context.Context, question string, b backend.Backend) (backend.Stream, error) {
	req, _, err := p.Prompt(ctx, question)
	if err != nil {
		return nil, err
	}
	return b.Stream(ctx, req)
}

// DeleteDocument removes a document's chunks from the index.
func (p *Pipeline) DeleteDocument(ctx context.Context, docID string) (int, error) {
	return p.retriever.Index().DeleteDocument(ctx, docID)
}
