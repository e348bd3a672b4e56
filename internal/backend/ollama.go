package backend

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/kalambet/aigw/internal/ollama"
)

// OllamaBackend adapts the internal/ollama.Client to the Backend interface.
type OllamaBackend struct {
	id     string
	client *ollama.Client
	model  string
	vision bool
}

// NewOllama creates a local backend served by an Ollama instance. Set vision
// when model is multimodal (llava, llama3.2-vision, ...).
func NewOllama(id string, client *ollama.Client, model string, vision bool) *OllamaBackend {
	return &OllamaBackend{id: id, client: client, model: model, vision: vision}
}

func (b *OllamaBackend) ID() string { return b.id }

func (b *OllamaBackend) Capabilities() Capabilities {
	return Capabilities{Streaming: true, Tools: true, Vision: b.vision}
}

func (b *OllamaBackend) Complete(ctx context.Context, req Request) (Response, error) {
	cr, err := b.chatRequest(req)
	if err != nil {
		return Response{}, err
	}
	msg, err := b.client.Chat(ctx, cr)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", b.id, err)
	}

	resp := Response{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{Name: tc.Function.Name, Arguments: args})
	}
	return resp, nil
}

func (b *OllamaBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("%s: streaming with tools: %w", b.id, ErrToolsUnsupported)
	}
	cr, err := b.chatRequest(req)
	if err != nil {
		return nil, err
	}
	s, err := b.client.ChatStream(ctx, cr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.id, err)
	}
	return s, nil
}

func (b *OllamaBackend) chatRequest(req Request) (ollama.ChatRequest, error) {
	if !b.vision && hasImages(req.Messages) {
		return ollama.ChatRequest{}, fmt.Errorf("%s: %w", b.id, ErrVisionUnsupported)
	}

	model := b.model
	if req.Options.Model != "" {
		model = req.Options.Model
	}
	cr := ollama.ChatRequest{Model: model}
	if req.Options.Temperature != nil {
		cr.Options = map[string]any{"temperature": *req.Options.Temperature}
	}

	for _, m := range req.Messages {
		om := ollama.Message{Role: m.Role, Content: m.Content, ToolName: m.ToolName}
		for _, img := range m.Images {
			om.Images = append(om.Images, base64.StdEncoding.EncodeToString(img.Data))
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollama.ToolCall{
				Function: ollama.ToolCallFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		cr.Messages = append(cr.Messages, om)
	}

	for _, t := range req.Tools {
		cr.Tools = append(cr.Tools, ollama.Tool{
			Type:     "function",
			Function: ollama.ToolFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return cr, nil
}
