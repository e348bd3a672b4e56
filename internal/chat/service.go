// Package chat serves conversational and single-shot completions on top of
// the fallback router and conversation memory.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/aigw/internal/backend"
	"github.com/kalambet/aigw/internal/memory"
	"github.com/kalambet/aigw/internal/router"
)

// Default prompts.
const (
	DefaultVisionQuestion = "Analyze this image in detail."
)

// ErrEmptyImage is returned by Describe for a missing image.
var ErrEmptyImage = errors.New("image is empty")

// Memory is the conversation store used by Chat.
type Memory interface {
	Append(ctx context.Context, conversationID string, msgs ...memory.Message) error
	Window(ctx context.Context, conversationID string) ([]memory.Message, error)
	Clear(ctx context.Context, conversationID string) error
}

// Service answers prompts through the router.
type Service struct {
	memory Memory
	router *router.Router
	logger *slog.Logger
}

// New creates a Service.
func New(mem Memory, rt *router.Router, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{memory: mem, router: rt, logger: logger}
}

// Chat answers text in the context of the conversation's recent window.
// The user message and the reply are stored together only when a backend
// answered, so a failed turn leaves the conversation unchanged.
func (s *Service) Chat(ctx context.Context, conversationID, text string, backends []backend.Backend) (router.Outcome, error) {
	history, err := s.memory.Window(ctx, conversationID)
	if err != nil {
		return router.Outcome{}, fmt.Errorf("loading conversation: %w", err)
	}

	msgs := make([]backend.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, backend.Message{Role: m.Role, Content: m.Text})
	}
	msgs = append(msgs, backend.Message{Role: backend.RoleUser, Content: text})

	out, err := s.router.Generate(ctx, backend.Request{Messages: msgs}, backends)
	if err != nil || out.Kind == router.TotalFailure {
		return out, err
	}

	err = s.memory.Append(ctx, conversationID,
		memory.Message{Role: memory.RoleUser, Text: text},
		memory.Message{Role: memory.RoleAssistant, Text: out.Text},
	)
	if err != nil {
		// The reply is still useful; only the history is lost.
		s.logger.Error("storing conversation turn failed", "conversation", conversationID, "error", err)
	}
	return out, nil
}

// Clear forgets a conversation.
func (s *Service) Clear(ctx context.Context, conversationID string) error {
	return s.memory.Clear(ctx, conversationID)
}

// Ask is a stateless completion with an optional system prompt.
func (s *Service) Ask(ctx context.Context, system, text string, backends []backend.Backend) (router.Outcome, error) {
	return s.router.Generate(ctx, backend.Prompt(system, text), backends)
}

// Stream is a stateless streaming completion from a single backend.
func (s *Service) Stream(ctx context.Context, system, text string, b backend.Backend) (backend.Stream, error) {
	return b.Stream(ctx, backend.Prompt(system, text))
}

// Describe asks the backends about an image. An empty question uses
// DefaultVisionQuestion.
func (s *Service) Describe(ctx context.Context, question string, img backend.Image, backends []backend.Backend) (router.Outcome, error) {
	if len(img.Data) == 0 {
		return router.Outcome{}, ErrEmptyImage
	}
	if question == "" {
		question = DefaultVisionQuestion
	}
	req := backend.Request{Messages: []backend.Message{{
		Role:    backend.RoleUser,
		Content: question,
		Images:  []backend.Image{img},
	}}}
	return s.router.Generate(ctx, req, backends)
}
