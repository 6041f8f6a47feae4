package ctxtools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stratum-mcp/stratum/internal/facade"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
)

// DelegateTool handles the context_delegate MCP tool.
type DelegateTool struct {
	facade *facade.Facade
}

// NewDelegateTool creates a DelegateTool over the given facade.
func NewDelegateTool(f *facade.Facade) *DelegateTool {
	return &DelegateTool{facade: f}
}

// Definition returns the MCP tool definition for context_delegate.
func (t *DelegateTool) Definition() mcp.Tool {
	return mcp.NewTool("context_delegate",
		mcp.WithDescription(
			"Promote context data upward: write 'data' to an ancestor of the source record, so sibling "+
				"branches and tasks inherit it. The target must be a strict ancestor of the source in your "+
				"own chain (e.g. task → project, branch → global).",
		),
		mcp.WithString("source_level",
			mcp.Required(),
			mcp.Description("Level of the record the data originates from"),
		),
		mcp.WithString("source_id",
			mcp.Required(),
			mcp.Description("Id of the source record"),
		),
		mcp.WithString("target_level",
			mcp.Required(),
			mcp.Description("Ancestor level to promote into"),
		),
		mcp.WithString("target_id",
			mcp.Description("Id of the target record. Omit for global: your own root."),
		),
		mcp.WithObject("data",
			mcp.Required(),
			mcp.Description("Key/value payload to promote"),
		),
	)
}

// Handle processes the context_delegate tool call.
func (t *DelegateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if res := rejectUserArg(req); res != nil {
		return res, nil
	}
	sourceLevel, res := levelArg(req, "source_level")
	if res != nil {
		return res, nil
	}
	targetLevel, res := levelArg(req, "target_level")
	if res != nil {
		return res, nil
	}
	sourceID := req.GetString("source_id", "")
	if sourceID == "" {
		return mcp.NewToolResultError("'source_id' is required"), nil
	}
	targetID := req.GetString("target_id", "")
	if targetID == "" && targetLevel != hierarchy.LevelGlobal {
		return mcp.NewToolResultError("'target_id' is required for non-global targets"), nil
	}
	payload, res := dataArg(req, true)
	if res != nil {
		return res, nil
	}

	rec, err := t.facade.Delegate(ctx,
		hierarchy.Ref{Level: sourceLevel, ID: sourceID},
		hierarchy.Ref{Level: targetLevel, ID: targetID},
		payload)
	if err != nil {
		return errResult(err), nil
	}
	return jsonResult(map[string]any{
		"record_id": rec.Ref.ID,
		"level":     rec.Ref.Level,
		"version":   rec.Version,
	}), nil
}
