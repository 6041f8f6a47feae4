package ctxtools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stratum-mcp/stratum/internal/facade"
)

// DeleteTool handles the context_delete MCP tool.
type DeleteTool struct {
	facade *facade.Facade
}

// NewDeleteTool creates a DeleteTool over the given facade.
func NewDeleteTool(f *facade.Facade) *DeleteTool {
	return &DeleteTool{facade: f}
}

// Definition returns the MCP tool definition for context_delete.
func (t *DeleteTool) Definition() mcp.Tool {
	return mcp.NewTool("context_delete",
		mcp.WithDescription(
			"Delete a context record. Descendants keep their own data but stop inheriting from it. "+
				"Deleting a record that was never created is an error.",
		),
		mcp.WithString("level",
			mcp.Required(),
			mcp.Description("Hierarchy level: global, project, branch, or task"),
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Record id at that level"),
		),
	)
}

// Handle processes the context_delete tool call.
func (t *DeleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := rejectUserArg(req); res != nil {
		return res, nil
	}
	level, res := levelArg(req, "level")
	if res != nil {
		return res, nil
	}
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	if err := t.facade.Delete(ctx, level, id); err != nil {
		return errResult(err), nil
	}
	return jsonResult(map[string]any{"deleted": true, "level": level, "record_id": id}), nil
}
