// Package tools holds the host functions a model may call mid-conversation.
// Tools are defined with mcp-go so the same set can be served over MCP.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/aigw/internal/backend"
)

// ErrUnknownTool is returned by Invoke for names that are not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is a definition plus the handler that runs it.
type Tool struct {
	Def     mcp.Tool
	Handler server.ToolHandlerFunc
}

// Registry is an immutable, ordered set of tools built once at startup.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry registers tools in the given order. Names must be unique.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Def.Name
		if name == "" || t.Handler == nil {
			return nil, fmt.Errorf("tool %q: name and handler are required", name)
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r, nil
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Specs describes the tools for a model backend.
func (r *Registry) Specs() []backend.ToolSpec {
	specs := make([]backend.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name].Def
		specs = append(specs, backend.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  inputSchema(def),
		})
	}
	return specs
}

// Invoke runs a tool and returns its text output. A result flagged as an
// error by the handler is returned as an error carrying that text.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := t.Handler(ctx, req)
	if err != nil {
		return "", fmt.Errorf("tool %s: %w", name, err)
	}
	text := resultText(res)
	if res != nil && res.IsError {
		return "", fmt.Errorf("tool %s: %s", name, text)
	}
	return text, nil
}

// Serve adds every tool to an MCP server.
func (r *Registry) Serve(s *server.MCPServer) {
	for _, name := range r.order {
		t := r.tools[name]
		s.AddTool(t.Def, t.Handler)
	}
}

// inputSchema returns the tool's JSON Schema as a generic map.
func inputSchema(def mcp.Tool) map[string]any {
	b, err := json.Marshal(def)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var wire struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(b, &wire); err != nil || wire.InputSchema == nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := wire.InputSchema["properties"]; !ok {
		wire.InputSchema["properties"] = map[string]any{}
	}
	return wire.InputSchema
}

func resultText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
