package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/aigw/internal/backend"
	"github.com/kalambet/aigw/internal/backend/backendtest"
	"github.com/kalambet/aigw/internal/chunker"
	"github.com/kalambet/aigw/internal/composer"
	"github.com/kalambet/aigw/internal/retrieval"
	"github.com/kalambet/aigw/internal/router"
)

type embedFunc func(ctx context.Context, model, text string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return f(ctx, model, text)
}

func constantEmbedding(context.Context, string, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// fixedIndex returns canned search hits.
type fixedIndex struct {
	*retrieval.MemoryIndex
	hits []retrieval.ScoredRecord
}

func (f *fixedIndex) Search(context.Context, []float32, int) ([]retrieval.ScoredRecord, error) {
	return f.hits, nil
}

func hit(id, text string, score float32) retrieval.ScoredRecord {
	return retrieval.ScoredRecord{Record: retrieval.Record{ID: id, DocID: "d", Text: text}, Score: score}
}

func newPipeline(t *testing.T, model retrieval.EmbeddingModel, idx retrieval.VectorIndex, logger *slog.Logger) *Pipeline {
	t.Helper()
	return newPipelineWith(t, model, idx, Config{Logger: logger})
}

func newPipelineWith(t *testing.T, model retrieval.EmbeddingModel, idx retrieval.VectorIndex, cfg Config) *Pipeline {
	t.Helper()
	ch := chunker.New(5)
	ch.MinChunkChars = 0
	r := retrieval.NewRetriever(retrieval.NewEmbedder(model, "embed"), idx)
	return New(ch, r, composer.New(0), router.New(cfg.Logger, nil), cfg)
}

func TestRetrieve_ZeroThresholdAcceptsEveryHit(t *testing.T) {
	idx := &fixedIndex{MemoryIndex: retrieval.NewMemoryIndex(), hits: []retrieval.ScoredRecord{
		hit("c1", "first chunk", 0.55),
		hit("c2", "second chunk", 0.1),
		hit("c3", "third chunk", 0),
	}}
	var zero float32
	p := newPipelineWith(t, embedFunc(constantEmbedding), idx, Config{Threshold: &zero})

	res, err := p.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 3)
	assert.Empty(t, res.Discarded)
}

func TestRetrieve_CustomThreshold(t *testing.T) {
	idx := &fixedIndex{MemoryIndex: retrieval.NewMemoryIndex(), hits: []retrieval.ScoredRecord{
		hit("c1", "first chunk", 0.95),
		hit("c2", "second chunk", 0.55),
	}}
	high := float32(0.9)
	p := newPipelineWith(t, embedFunc(constantEmbedding), idx, Config{Threshold: &high})

	res, err := p.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, res.Accepted, 1)
	assert.Equal(t, "c1", res.Accepted[0].ID)
}

func TestAnswer_ThresholdFiltersContext(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	idx := &fixedIndex{MemoryIndex: retrieval.NewMemoryIndex(), hits: []retrieval.ScoredRecord{
		hit("c1", "first chunk", 0.55),
		hit("c2", "second chunk", 0.42),
		hit("c3", "third chunk", 0.35),
	}}
	p := newPipeline(t, embedFunc(constantEmbedding), idx, logger)

	res, err := p.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, res.Accepted, 2)
	assert.Equal(t, "c1", res.Accepted[0].ID)
	assert.Equal(t, "c2", res.Accepted[1].ID)
	require.Len(t, res.Discarded, 1)
	assert.Equal(t, "c3", res.Discarded[0].ID)
	assert.Contains(t, logs.String(), "chunk_id=c3")

	b := backendtest.Answering("ollama", "answer")
	out, err := p.Answer(context.Background(), "q", []backend.Backend{b})
	require.NoError(t, err)
	assert.Equal(t, "answer", out.Text)

	prompt := b.LastRequest().Messages[0].Content
	assert.Contains(t, prompt, "CONTEXT:\nfirst chunk\n\nsecond chunk\n---")
	assert.NotContains(t, prompt, "third chunk")
}

func TestAnswer_EmptyRetrievalStillAnswers(t *testing.T) {
	idx := &fixedIndex{MemoryIndex: retrieval.NewMemoryIndex(), hits: []retrieval.ScoredRecord{
		hit("low", "irrelevant", 0.1),
	}}
	p := newPipeline(t, embedFunc(constantEmbedding), idx, nil)

	b := backendtest.Answering("ollama", "I do not know.")
	out, err := p.Answer(context.Background(), "what?", []backend.Backend{b})
	require.NoError(t, err)
	assert.NoError(t, out.Err())
	assert.Equal(t, "I do not know.", out.Text)
	assert.Contains(t, b.LastRequest().Messages[0].Content, "CONTEXT:\n\n---")
}

func TestAnswer_RetrievalFailureIsError(t *testing.T) {
	failing := embedFunc(func(context.Context, string, string) ([]float32, error) {
		return nil, errors.New("ollama down")
	})
	p := newPipeline(t, failing, retrieval.NewMemoryIndex(), nil)
	b := backendtest.Answering("ollama", "x")

	_, err := p.Answer(context.Background(), "q", []backend.Backend{b})
	require.Error(t, err)
	assert.Equal(t, 0, b.Calls())
}

func TestIngest_WritesAllChunks(t *testing.T) {
	idx := retrieval.NewMemoryIndex()
	p := newPipeline(t, embedFunc(constantEmbedding), idx, nil)

	text := "alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima"
	n, err := p.Ingest(context.Background(), Document{ID: "doc1", Filename: "notes.txt", Data: []byte(text)})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	removed, err := p.DeleteDocument(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
}

func TestIngest_UnparseableDocumentWritesNothing(t *testing.T) {
	idx := retrieval.NewMemoryIndex()
	p := newPipeline(t, embedFunc(constantEmbedding), idx, nil)

	_, err := p.Ingest(context.Background(), Document{Filename: "broken.pdf", Data: []byte("%PDF-1.7 garbage")})
	var ie *IngestionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, StageExtract, ie.Stage)
	assert.NotEmpty(t, ie.DocID)

	count, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngest_EmbeddingFailureWritesNothing(t *testing.T) {
	var calls atomic.Int32
	flaky := embedFunc(func(_ context.Context, _ string, text string) ([]float32, error) {
		if calls.Add(1) == 2 {
			return nil, errors.New("model crashed")
		}
		return []float32{1, 0}, nil
	})
	idx := retrieval.NewMemoryIndex()
	p := newPipeline(t, flaky, idx, nil)

	text := strings.Repeat("word ", 20)
	_, err := p.Ingest(context.Background(), Document{Filename: "a.txt", Data: []byte(text)})
	var ie *IngestionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, StageEmbed, ie.Stage)
	assert.ErrorContains(t, err, "model crashed")

	count, _ := idx.Count(context.Background())
	assert.Zero(t, count)
}

func TestIngest_EmptyDocument(t *testing.T) {
	p := newPipeline(t, embedFunc(constantEmbedding), retrieval.NewMemoryIndex(), nil)
	_, err := p.Ingest(context.Background(), Document{Filename: "empty.txt", Data: []byte("   ")})
	var ie *IngestionError
	require.ErrorAs(t, err, &ie)
}

func TestAnswerStream_SingleBackendFragments(t *testing.T) {
	p := newPipeline(t, embedFunc(constantEmbedding), retrieval.NewMemoryIndex(), nil)
	b := backendtest.Answering("ollama", "")
	b.Fragments = []string{"Hel", "lo"}

	s, err := p.AnswerStream(context.Background(), "q", b)
	require.NoError(t, err)
	text, err := backendtest.Collect(s)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestAnswerStream_MidStreamFailureIsTerminal(t *testing.T) {
	p := newPipeline(t, embedFunc(constantEmbedding), retrieval.NewMemoryIndex(), nil)
	b := backendtest.Answering("ollama", "")
	b.Fragments = []string{"partial"}
	b.StreamErr = io.ErrUnexpectedEOF
	other := backendtest.Answering("gemini", "should not be used")

	s, err := p.AnswerStream(context.Background(), "q", b)
	require.NoError(t, err)
	text, err := backendtest.Collect(s)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "partial", text)
	assert.Equal(t, 0, other.Calls())
}
