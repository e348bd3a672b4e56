package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/kalambet/aigw/internal/proxy"
)

// CloudBackend adapts the OpenAI-compatible proxy.Client (OpenRouter by
// default) to the Backend interface.
//
// An optional client-side limiter enforces the provider's free-tier quota.
// When the limiter has no token the call fails immediately with
// ErrRateLimited instead of waiting, so a router can fall back.
type CloudBackend struct {
	id      string
	client  *proxy.Client
	model   string
	limiter *rate.Limiter
}

// NewCloud creates a cloud backend. requestsPerMinute <= 0 disables the
// local quota.
func NewCloud(id string, client *proxy.Client, model string, requestsPerMinute int) *CloudBackend {
	b := &CloudBackend{id: id, client: client, model: model}
	if requestsPerMinute > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), requestsPerMinute)
	}
	return b
}

func (b *CloudBackend) ID() string { return b.id }

func (b *CloudBackend) Capabilities() Capabilities {
	return Capabilities{Streaming: true, Tools: true, Vision: true}
}

func (b *CloudBackend) Complete(ctx context.Context, req Request) (Response, error) {
	if err := b.admit(); err != nil {
		return Response{}, err
	}
	cr, err := b.chatRequest(req, false)
	if err != nil {
		return Response{}, err
	}
	msg, err := b.client.Complete(ctx, cr)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", b.id, err)
	}

	resp := Response{Text: contentText(msg.Content)}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return Response{}, fmt.Errorf("%s: decoding arguments of %s: %w", b.id, tc.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return resp, nil
}

func (b *CloudBackend) Stream(ctx context.Context, req Request) (Stream, error) {
	if len(req.Tools) > 0 {
		return nil, fmt.Errorf("%s: streaming with tools: %w", b.id, ErrToolsUnsupported)
	}
	if err := b.admit(); err != nil {
		return nil, err
	}
	cr, err := b.chatRequest(req, true)
	if err != nil {
		return nil, err
	}
	s, err := b.client.Stream(ctx, cr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.id, err)
	}
	return s, nil
}

func (b *CloudBackend) admit() error {
	if b.limiter != nil && !b.limiter.Allow() {
		return fmt.Errorf("%s: %w", b.id, ErrRateLimited)
	}
	return nil
}

func (b *CloudBackend) chatRequest(req Request, stream bool) (proxy.ChatRequest, error) {
	model := b.model
	if req.Options.Model != "" {
		model = req.Options.Model
	}

	msgs := make([]proxy.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		pm := proxy.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		if m.Role == RoleTool {
			pm.Name = m.ToolName
		}
		if len(m.Images) > 0 {
			parts := []proxy.ContentPart{{Type: "text", Text: m.Content}}
			for _, img := range m.Images {
				url := "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
				parts = append(parts, proxy.ContentPart{Type: "image_url", ImageURL: &proxy.ImageURL{URL: url}})
			}
			pm.Content = parts
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return proxy.ChatRequest{}, fmt.Errorf("encoding arguments of %s: %w", tc.Name, err)
			}
			pm.ToolCalls = append(pm.ToolCalls, proxy.ToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: proxy.ToolCallFunction{Name: tc.Name, Arguments: string(args)},
			})
		}
		msgs = append(msgs, pm)
	}

	var tools []proxy.Tool
	for _, t := range req.Tools {
		tools = append(tools, proxy.Tool{
			Type:     "function",
			Function: proxy.ToolFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	cr, err := proxy.NewChatRequest(model, msgs, tools, stream)
	if err != nil {
		return proxy.ChatRequest{}, err
	}
	if req.Options.Temperature != nil {
		if cr.Extra == nil {
			cr.Extra = map[string]json.RawMessage{}
		}
		t, _ := json.Marshal(*req.Options.Temperature)
		cr.Extra["temperature"] = t
	}
	return cr, nil
}

// contentText flattens a response content field, which providers return as
// a string, null, or a list of text parts.
func contentText(c any) string {
	switch v := c.(type) {
	case string:
		return v
	case []any:
		var out string
		for _, p := range v {
			if m, ok := p.(map[string]any); ok {
				if s, ok := m["text"].(string); ok {
					out += s
				}
			}
		}
		return out
	default:
		return ""
	}
}
