package ctxtools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stratum-mcp/stratum/internal/facade"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
)

// UpdateTool handles the context_update MCP tool.
type UpdateTool struct {
	facade *facade.Facade
}

// NewUpdateTool creates an UpdateTool over the given facade.
func NewUpdateTool(f *facade.Facade) *UpdateTool {
	return &UpdateTool{facade: f}
}

// Definition returns the MCP tool definition for context_update.
func (t *UpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("context_update",
		mcp.WithDescription(
			"Write context data at a hierarchy level. Creates the record on first write. "+
				"Keys in 'data' patch the existing record: a null value deletes the key. "+
				"List the keys whose inherited lists should be replaced (not appended to) in 'replace_keys'. "+
				"New branch records link to their project via 'project_id'; new task records to their branch via 'branch_id'.",
		),
		mcp.WithString("level",
			mcp.Required(),
			mcp.Description("Hierarchy level: global, project, branch, or task"),
		),
		mcp.WithString("id",
			mcp.Description("Record id at that level. Omit at global to write your own root context."),
		),
		mcp.WithObject("data",
			mcp.Required(),
			mcp.Description("Key/value patch to apply. null values delete keys."),
		),
		mcp.WithArray("replace_keys",
			mcp.Description("Keys whose values replace the inherited list instead of appending"),
		),
		mcp.WithString("project_id",
			mcp.Description("Parent project for a branch record"),
		),
		mcp.WithString("branch_id",
			mcp.Description("Parent branch for a task record"),
		),
	)
}

// Handle processes the context_update tool call.
func (t *UpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
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
	patch, res := dataArg(req, true)
	if res != nil {
		return res, nil
	}

	var parent hierarchy.Ref
	switch level {
	case hierarchy.LevelBranch:
		if p := req.GetString("project_id", ""); p != "" {
			parent = hierarchy.Ref{Level: hierarchy.LevelProject, ID: p}
		}
	case hierarchy.LevelTask:
		if b := req.GetString("branch_id", ""); b != "" {
			parent = hierarchy.Ref{Level: hierarchy.LevelBranch, ID: b}
		}
	}

	rec, err := t.facade.Update(ctx, level, id, facade.UpdateParams{Patch: patch, Parent: parent})
	if err != nil {
		return errResult(err), nil
	}
	return jsonResult(map[string]any{
		"record_id": rec.Ref.ID,
		"level":     rec.Ref.Level,
		"version":   rec.Version,
	}), nil
}
