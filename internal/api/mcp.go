package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/aigw/internal/pipeline"
	"github.com/kalambet/aigw/internal/retrieval"
	"github.com/kalambet/aigw/internal/tools"
)

// MCPRetriever runs an unthresholded similarity search.
type MCPRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.ScoredRecord, error)
}

// MCPKnowledge adds and removes knowledge-base documents.
type MCPKnowledge interface {
	Ingest(ctx context.Context, doc pipeline.Document) (int, error)
	DeleteDocument(ctx context.Context, docID string) (int, error)
}

// MCPCounter reports the number of indexed chunks.
type MCPCounter interface {
	Count(ctx context.Context) (int, error)
}

// MCPDeps holds dependencies for the MCP server. Tools and Index are
// optional.
type MCPDeps struct {
	Tools     *tools.Registry
	Retriever MCPRetriever
	Knowledge MCPKnowledge
	Index     MCPCounter
}

// NewMCPServer creates an MCP server exposing the model tools plus direct
// knowledge-base access.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"aigw",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("aigw: model gateway tools and a private document knowledge base."),
		server.WithRecovery(),
	)

	if deps.Tools != nil {
		deps.Tools.Serve(s)
	}

	s.AddTool(
		mcp.NewTool("add_context",
			mcp.WithDescription("Store a piece of text in the knowledge base for later retrieval."),
			mcp.WithString("title", mcp.Description("Title for the entry")),
			mcp.WithString("content", mcp.Description("The text content to store"), mcp.Required()),
		),
		mcpAddContext(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Semantically search the knowledge base and return the closest chunks with their scores."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("forget_document",
			mcp.WithDescription("Remove every chunk of a document from the knowledge base."),
			mcp.WithString("id", mcp.Description("Document id returned at upload"), mcp.Required()),
		),
		mcpForgetDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"kb://stats",
			"Knowledge Base Stats",
			mcp.WithResourceDescription("Number of indexed chunks"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpAddContext(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil || strings.TrimSpace(content) == "" {
			return mcpError("content is required"), nil
		}
		title := req.GetString("title", "")
		if title == "" {
			title = "note"
		}

		doc := pipeline.Document{
			ID:          uuid.NewString(),
			Filename:    title + ".txt",
			ContentType: "text/plain",
			Data:        []byte(content),
		}
		n, err := deps.Knowledge.Ingest(ctx, doc)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored document %s (%d chunks)", doc.ID, n)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		hits, err := deps.Retriever.Retrieve(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}

		type chunkResult struct {
			ID     string  `json:"id"`
			DocID  string  `json:"doc_id"`
			Source string  `json:"source"`
			Text   string  `json:"text"`
			Score  float32 `json:"score"`
		}

		results := make([]chunkResult, len(hits))
		for i, c := range hits {
			results[i] = chunkResult{
				ID:     c.ID,
				DocID:  c.DocID,
				Source: c.Source,
				Text:   c.Text,
				Score:  c.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpForgetDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		n, err := deps.Knowledge.DeleteDocument(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to delete: %v", err)), nil
		}
		if n == 0 {
			return mcpError(fmt.Sprintf("document %s not found", id)), nil
		}
		return mcpText(fmt.Sprintf("Removed %d chunks of document %s", n, id)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats := map[string]any{"chunks": 0}
		if deps.Index != nil {
			n, err := deps.Index.Count(ctx)
			if err != nil {
				return nil, fmt.Errorf("counting chunks: %w", err)
			}
			stats["chunks"] = n
		}
		if deps.Tools != nil {
			stats["tools"] = deps.Tools.Names()
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
