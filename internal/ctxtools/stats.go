package ctxtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stratum-mcp/stratum/internal/facade"
)

// StatsTool handles the context_stats MCP tool.
type StatsTool struct {
	facade *facade.Facade
}

// NewStatsTool creates a StatsTool over the given facade.
func NewStatsTool(f *facade.Facade) *StatsTool {
	return &StatsTool{facade: f}
}

// Definition returns the MCP tool definition for context_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("context_stats",
		mcp.WithDescription(
			"Show context engine statistics — storage backend in use and resolved-view cache counters.",
		),
	)
}

// Handle processes the context_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := rejectUserArg(req); res != nil {
		return res, nil
	}
	stats, err := t.facade.Stats(ctx)
	if err != nil {
		return errResult(err), nil
	}

	var sb strings.Builder
	sb.WriteString("## Context Engine Statistics\n\n")
	sb.WriteString(fmt.Sprintf("- **Backend**: %s\n", stats.BackendKind))
	sb.WriteString(fmt.Sprintf("- **Cached views**: %d\n", stats.CachedViews))
	sb.WriteString(fmt.Sprintf("- **Cache hits**: %d\n", stats.CacheHits))
	sb.WriteString(fmt.Sprintf("- **Cache misses**: %d\n", stats.CacheMisses))
	sb.WriteString(fmt.Sprintf("- **Cache insertions**: %d\n", stats.CacheInsertions))
	sb.WriteString(fmt.Sprintf("- **Cache evictions**: %d\n", stats.CacheEvictions))

	return mcp.NewToolResultText(sb.String()), nil
}
