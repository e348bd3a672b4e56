// Package composer assembles the prompts sent to model backends.
package composer

import (
	"sort"
	"strings"

	"github.com/kalambet/aigw/internal/backend"
	"github.com/kalambet/aigw/internal/retrieval"
)

const defaultMaxContextTokens = 2000

// ContextDelimiter separates retrieved chunks in the assembled context.
const ContextDelimiter = "\n\n"

const ragTemplate = `You are a helpful assistant. Use ONLY the following context to answer the question.
If the answer is not found in the context, clearly state that you do not know.

---
CONTEXT:
{context}
---

QUESTION: 
{question}`

// Fixed system prompts.
const (
	SupportPersona = "You are a customer support agent for a tech company."

	SystemMonitorPrompt = "You are a system monitor. " +
		"1. If the user asks about the computer, use the 'getSystemStatus' tool. " +
		"2. Read the result and explain it to the user in one simple sentence. " +
		"3. Do NOT output JSON, code, or technical schemas. Just plain English."
)

// Composer builds retrieval-augmented prompts under a token budget for the
// injected context.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (2000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// AssembleContext joins chunk texts in descending score order, skipping any
// chunk that no longer fits the remaining budget. Equal scores keep their
// given order.
func (c *Composer) AssembleContext(chunks []retrieval.ScoredRecord) string {
	if len(chunks) == 0 {
		return ""
	}
	sorted := make([]retrieval.ScoredRecord, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	remaining := c.MaxContextTokens
	delimTokens := EstimateTokens(ContextDelimiter)
	var selected []string
	for _, ch := range sorted {
		tokens := EstimateTokens(ch.Text)
		if len(selected) > 0 {
			tokens += delimTokens
		}
		if tokens > remaining {
			continue
		}
		selected = append(selected, ch.Text)
		remaining -= tokens
	}
	return strings.Join(selected, ContextDelimiter)
}

// RAGPrompt fills the answer-from-context template. An empty context is
// allowed; the template tells the model to admit it does not know.
func RAGPrompt(context, question string) string {
	return strings.NewReplacer("{context}", context, "{question}", question).Replace(ragTemplate)
}

// Compose returns the request for answering question from chunks.
func (c *Composer) Compose(chunks []retrieval.ScoredRecord, question string) backend.Request {
	return backend.Prompt("", RAGPrompt(c.AssembleContext(chunks), question))
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
