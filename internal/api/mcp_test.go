package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/aigw/internal/pipeline"
	"github.com/kalambet/aigw/internal/retrieval"
)

// --- mocks ---

type mockMCPRetriever struct {
	hits    []retrieval.ScoredRecord
	err     error
	gotTopK int
}

func (m *mockMCPRetriever) Retrieve(_ context.Context, _ string, topK int) ([]retrieval.ScoredRecord, error) {
	m.gotTopK = topK
	return m.hits, m.err
}

type mockMCPKnowledge struct {
	docs    []pipeline.Document
	deleted int
	err     error
}

func (m *mockMCPKnowledge) Ingest(_ context.Context, doc pipeline.Document) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.docs = append(m.docs, doc)
	return 1, nil
}

func (m *mockMCPKnowledge) DeleteDocument(_ context.Context, _ string) (int, error) {
	return m.deleted, m.err
}

type mockCounter int

func (c mockCounter) Count(context.Context) (int, error) { return int(c), nil }

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_AddContext(t *testing.T) {
	kb := &mockMCPKnowledge{}
	handler := mcpAddContext(MCPDeps{Knowledge: kb})

	result, err := handler(context.Background(), makeCallToolRequest("add_context", map[string]any{
		"title":   "go-preference",
		"content": "I prefer Go for backend services",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	if len(kb.docs) != 1 {
		t.Fatalf("expected 1 doc, got %d", len(kb.docs))
	}
	doc := kb.docs[0]
	if string(doc.Data) != "I prefer Go for backend services" {
		t.Errorf("unexpected content: %s", doc.Data)
	}
	if doc.Filename != "go-preference.txt" || doc.ContentType != "text/plain" {
		t.Errorf("unexpected document metadata: %+v", doc)
	}
	if doc.ID == "" {
		t.Error("document id not assigned")
	}
}

func TestMCPTool_AddContext_RequiresContent(t *testing.T) {
	handler := mcpAddContext(MCPDeps{Knowledge: &mockMCPKnowledge{}})

	result, err := handler(context.Background(), makeCallToolRequest("add_context", map[string]any{"content": "  "}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for blank content")
	}
}

func TestMCPTool_Recall_ReturnsChunks(t *testing.T) {
	r := &mockMCPRetriever{hits: []retrieval.ScoredRecord{
		{Record: retrieval.Record{ID: "d1-0", DocID: "d1", Source: "a.pdf", Text: "Go is great"}, Score: 0.95},
		{Record: retrieval.Record{ID: "d2-0", DocID: "d2", Source: "b.md", Text: "Prefer short answers"}, Score: 0.3},
	}}
	handler := mcpRecall(MCPDeps{Retriever: r})

	result, err := handler(context.Background(), makeCallToolRequest("recall", map[string]any{
		"query": "go preferences",
		"limit": 500,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if r.gotTopK != 50 {
		t.Errorf("topK = %d, want clamp to 50", r.gotTopK)
	}

	var chunks []struct {
		ID    string  `json:"id"`
		DocID string  `json:"doc_id"`
		Score float32 `json:"score"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &chunks); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(chunks) != 2 || chunks[0].DocID != "d1" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestMCPTool_Recall_Error(t *testing.T) {
	handler := mcpRecall(MCPDeps{Retriever: &mockMCPRetriever{err: errors.New("embedding model offline")}})

	result, err := handler(context.Background(), makeCallToolRequest("recall", map[string]any{"query": "q"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_ForgetDocument(t *testing.T) {
	kb := &mockMCPKnowledge{}
	handler := mcpForgetDocument(MCPDeps{Knowledge: kb})

	result, _ := handler(context.Background(), makeCallToolRequest("forget_document", map[string]any{"id": "d1"}))
	if !result.IsError {
		t.Fatal("expected error result for unknown document")
	}

	kb.deleted = 3
	result, _ = handler(context.Background(), makeCallToolRequest("forget_document", map[string]any{"id": "d1"}))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
}

func TestMCPResource_Stats(t *testing.T) {
	handler := mcpResourceStats(MCPDeps{Index: mockCounter(7)})

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "kb://stats"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var stats map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &stats); err != nil {
		t.Fatal(err)
	}
	if stats["chunks"] != float64(7) {
		t.Errorf("chunks = %v, want 7", stats["chunks"])
	}
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	s := NewMCPServer(MCPDeps{Retriever: &mockMCPRetriever{}, Knowledge: &mockMCPKnowledge{}})
	if s == nil {
		t.Fatal("nil server")
	}
}
