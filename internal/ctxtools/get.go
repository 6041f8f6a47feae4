package ctxtools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stratum-mcp/stratum/internal/facade"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
)

// GetTool handles the context_get MCP tool.
type GetTool struct {
	facade *facade.Facade
}

// NewGetTool creates a GetTool over the given facade.
func NewGetTool(f *facade.Facade) *GetTool {
	return &GetTool{facade: f}
}

// Definition returns the MCP tool definition for context_get.
func (t *GetTool) Definition() mcp.Tool {
	return mcp.NewTool("context_get",
		mcp.WithDescription(
			"Read the resolved context at a hierarchy level: the record's own data merged with everything "+
				"inherited from its ancestors (GLOBAL → PROJECT → BRANCH → TASK). Returns the merged data "+
				"plus inherited_from, the ancestor refs that contributed.",
		),
		mcp.WithString("level",
			mcp.Required(),
			mcp.Description("Hierarchy level: global, project, branch, or task"),
		),
		mcp.WithString("id",
			mcp.Description("Record id at that level. Omit at global to read your own root context."),
		),
	)
}

// Handle processes the context_get tool call.
func (t *GetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := rejectUserArg(req); res != nil {
		return res, nil
	}
	level, res := levelArg(req, "level")
	if res != nil {
		return res, nil
	}
	id := req.GetString("id", "")
	if id == "" && level != hierarchy.LevelGlobal {
		return mcp.NewToolResultError("'id' is required for non-global levels"), nil
	}

	view, err := t.facade.GetResolved(ctx, level, id)
	if err != nil {
		return errResult(err), nil
	}
	return jsonResult(view), nil
}
