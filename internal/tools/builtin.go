package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/aigw/internal/pipeline"
	"github.com/kalambet/aigw/internal/sysinfo"
)

// Tool names.
const (
	SystemStatus        = "getSystemStatus"
	SearchKnowledgeBase = "searchKnowledgeBase"
)

// SampleSource returns the latest cached system sample.
type SampleSource interface {
	Latest() (sysinfo.Sample, error)
}

// SystemStatusTool reports host CPU and memory from the background sampler.
// It never measures synchronously.
func SystemStatusTool(src SampleSource) Tool {
	return Tool{
		Def: mcp.NewTool(SystemStatus,
			mcp.WithDescription("Get the current system CPU usage and total available system memory"),
		),
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			s, err := src.Latest()
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("system status unavailable: %v", err)), nil
			}
			return mcp.NewToolResultText(FormatSample(s)), nil
		},
	}
}

// FormatSample renders a sample as the one-line health summary.
func FormatSample(s sysinfo.Sample) string {
	const mb = 1 << 20
	return fmt.Sprintf("Current System Health: CPU Usage is :%.1f%% Free RAM is :%dMB out of %dMB",
		s.CPUPercent, s.FreeMemory/mb, s.TotalMemory/mb)
}

// Retriever runs a thresholded knowledge-base search.
type Retriever interface {
	Retrieve(ctx context.Context, question string) (pipeline.Retrieval, error)
}

// KnowledgeBaseTool lets a model search ingested documents.
func KnowledgeBaseTool(r Retriever) Tool {
	return Tool{
		Def: mcp.NewTool(SearchKnowledgeBase,
			mcp.WithDescription("Search the uploaded documents for passages relevant to a query"),
			mcp.WithString("query", mcp.Description("What to look for"), mcp.Required()),
		),
		Handler: knowledgeBaseHandler(r),
	}
}

func knowledgeBaseHandler(r Retriever) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}
		res, err := r.Retrieve(ctx, query)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if res.Miss() {
			return mcp.NewToolResultText("No relevant documents found."), nil
		}
		texts := make([]string, len(res.Accepted))
		for i, c := range res.Accepted {
			texts[i] = c.Text
		}
		return mcp.NewToolResultText(strings.Join(texts, "\n\n")), nil
	}
}
