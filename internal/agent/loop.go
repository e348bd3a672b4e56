// Package agent runs the tool-invocation loop: a model may ask for host
// tool results any number of times, up to a bound, before answering.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/aigw/internal/backend"
	"github.com/kalambet/aigw/internal/router"
)

// DefaultMaxIterations bounds model calls per request.
const DefaultMaxIterations = 5

// ToolLoopExceededError is returned when the model is still requesting
// tools after the maximum number of model calls.
type ToolLoopExceededError struct {
	MaxIterations int
	// LastTools are the tool names requested in the final iteration.
	LastTools []string
}

func (e *ToolLoopExceededError) Error() string {
	return fmt.Sprintf("tool loop did not finish after %d model calls (last requested: %v)", e.MaxIterations, e.LastTools)
}

// Tools is the host tool set offered to the model.
type Tools interface {
	Specs() []backend.ToolSpec
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
}

// Loop drives the model/tool exchange.
type Loop struct {
	tools  Tools
	router *router.Router
	max    int
	logger *slog.Logger
}

// New creates a Loop. maxIterations <= 0 uses DefaultMaxIterations.
func New(tools Tools, rt *router.Router, maxIterations int, logger *slog.Logger) *Loop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{tools: tools, router: rt, max: maxIterations, logger: logger}
}

// Converse runs the loop against one backend. Backend errors are returned
// as they are; tool errors are reported back to the model as observations.
func (l *Loop) Converse(ctx context.Context, b backend.Backend, req backend.Request) (string, error) {
	if b.Capabilities().Tools {
		req.Tools = l.tools.Specs()
	}
	msgs := append([]backend.Message(nil), req.Messages...)

	var last []string
	for iter := 1; iter <= l.max; iter++ {
		req.Messages = msgs
		resp, err := b.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Text, nil
		}

		calls := make([]backend.ToolCall, len(resp.ToolCalls))
		copy(calls, resp.ToolCalls)
		last = last[:0]
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = fmt.Sprintf("call_%d_%d", iter, i)
			}
			last = append(last, calls[i].Name)
		}
		msgs = append(msgs, backend.Message{Role: backend.RoleAssistant, Content: resp.Text, ToolCalls: calls})

		for _, call := range calls {
			msgs = append(msgs, backend.Message{
				Role:       backend.RoleTool,
				Content:    l.invoke(ctx, b.ID(), call),
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	return "", &ToolLoopExceededError{MaxIterations: l.max, LastTools: append([]string(nil), last...)}
}

func (l *Loop) invoke(ctx context.Context, backendID string, call backend.ToolCall) string {
	out, err := l.tools.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		l.logger.Warn("tool invocation failed", "tool", call.Name, "backend", backendID, "error", err)
		return "error: " + err.Error()
	}
	l.logger.Debug("tool invoked", "tool", call.Name, "backend", backendID)
	return out
}

// Ask runs the loop through the fallback router. A loop that does not
// finish stops routing and is returned as *ToolLoopExceededError.
func (l *Loop) Ask(ctx context.Context, system, question string, backends []backend.Backend) (router.Outcome, error) {
	return l.router.Run(ctx, backends, func(ctx context.Context, b backend.Backend) (string, error) {
		text, err := l.Converse(ctx, b, backend.Prompt(system, question))
		var exceeded *ToolLoopExceededError
		if errors.As(err, &exceeded) {
			return "", router.Halt(err)
		}
		return text, err
	})
}
