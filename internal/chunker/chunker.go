// Package chunker splits extracted document text into token-bounded chunks.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Defaults follow the usual settings for small embedding models.
const (
	DefaultMaxTokens     = 800
	DefaultMinChunkChars = 350
	DefaultMinEmbedChars = 5
	DefaultMaxChunks     = 10000
)

// Token is a half-open byte range [Start, End) in the source text.
type Token struct {
	Start int
	End   int
}

// Tokenizer finds token boundaries. Chunks are always cut between tokens.
type Tokenizer interface {
	Tokenize(text string) []Token
}

// WordTokenizer treats every maximal run of non-space characters as a token.
type WordTokenizer struct{}

func (WordTokenizer) Tokenize(text string) []Token {
	var toks []Token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, Token{Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, Token{Start: start, End: len(text)})
	}
	return toks
}

// Chunk is one segment of a document.
type Chunk struct {
	Seq    int
	Text   string
	Tokens int
}

// Chunker cuts text into chunks of at most MaxTokens tokens. Within that
// bound it prefers to end a chunk on a sentence boundary, provided the chunk
// is already longer than MinChunkChars. Chunks shorter than MinEmbedChars
// are dropped.
type Chunker struct {
	MaxTokens     int
	MinChunkChars int
	MinEmbedChars int
	MaxChunks     int
	Tokenizer     Tokenizer
}

// New returns a Chunker with the default settings and the given token
// budget. maxTokens <= 0 selects DefaultMaxTokens.
func New(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{
		MaxTokens:     maxTokens,
		MinChunkChars: DefaultMinChunkChars,
		MinEmbedChars: DefaultMinEmbedChars,
		MaxChunks:     DefaultMaxChunks,
		Tokenizer:     WordTokenizer{},
	}
}

// Split returns the chunks of text in document order.
func (c *Chunker) Split(text string) []Chunk {
	tok := c.Tokenizer
	if tok == nil {
		tok = WordTokenizer{}
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxChunks := c.MaxChunks
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}

	toks := tok.Tokenize(text)
	var chunks []Chunk
	for i := 0; i < len(toks) && len(chunks) < maxChunks; {
		end := min(i+maxTokens, len(toks))
		cut := end
		if end < len(toks) {
			cut = c.sentenceCut(text, toks, i, end)
		}

		body := normalize(text[toks[i].Start:toks[cut-1].End])
		if utf8.RuneCountInString(body) >= c.MinEmbedChars {
			chunks = append(chunks, Chunk{Seq: len(chunks), Text: body, Tokens: cut - i})
		}
		i = cut
	}
	return chunks
}

// sentenceCut returns the exclusive token index to end the chunk starting at
// from. It picks the last sentence-ending token in (from, end) past
// MinChunkChars, or end when there is none.
func (c *Chunker) sentenceCut(text string, toks []Token, from, end int) int {
	for j := end - 1; j > from; j-- {
		if toks[j].End-toks[from].Start <= c.MinChunkChars {
			break
		}
		if endsSentence(text, toks, j) {
			return j + 1
		}
	}
	return end
}

func endsSentence(text string, toks []Token, j int) bool {
	last, _ := utf8.DecodeLastRuneInString(text[toks[j].Start:toks[j].End])
	switch last {
	case '.', '!', '?':
		return true
	}
	if j+1 < len(toks) {
		return strings.Contains(text[toks[j].End:toks[j+1].Start], "\n")
	}
	return false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
