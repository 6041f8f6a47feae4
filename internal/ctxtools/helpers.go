// Package ctxtools provides the MCP tool handlers for the context engine.
//
// Each tool handler follows the same pattern:
// - A struct with the facade injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// The handlers are thin glue: identity comes from the request context, never
// from tool arguments, and all semantics live below the facade.
package ctxtools

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stratum-mcp/stratum/internal/hierarchy"
)

// rejectUserArg refuses any call that tries to name a user explicitly.
// Accepting one would let a caller read or write another tenant's chain.
func rejectUserArg(req mcp.CallToolRequest) *mcp.CallToolResult {
	if _, ok := req.GetArguments()["user_id"]; ok {
		return mcp.NewToolResultError("'user_id' is not an accepted argument: identity comes from the authenticated session")
	}
	return nil
}

// levelArg parses and validates the level argument named key.
func levelArg(req mcp.CallToolRequest, key string) (hierarchy.Level, *mcp.CallToolResult) {
	raw := req.GetString(key, "")
	if raw == "" {
		return "", mcp.NewToolResultError(fmt.Sprintf("'%s' is required (global, project, branch, task)", key))
	}
	level, err := hierarchy.ParseLevel(raw)
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}
	return level, nil
}

// dataArg converts the "data" object argument into ordered record data.
// JSON objects arrive as Go maps, so insertion order is gone by the time the
// request reaches us; keys are sorted to keep the conversion deterministic.
// Keys listed in replace_keys get the list-replace marker appended.
func dataArg(req mcp.CallToolRequest, required bool) (*hierarchy.Data, *mcp.CallToolResult) {
	raw, ok := req.GetArguments()["data"].(map[string]any)
	if !ok {
		if required {
			return nil, mcp.NewToolResultError("'data' is required and must be an object")
		}
		return nil, nil
	}

	replace := map[string]bool{}
	if list, ok := req.GetArguments()["replace_keys"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				replace[s] = true
			}
		}
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := hierarchy.NewData()
	for _, k := range keys {
		key := k
		if replace[k] {
			key = k + hierarchy.ReplaceSuffix
		}
		data.Set(key, raw[k])
	}
	return data, nil
}

// errResult maps an engine error to a tool error result. Taxonomy errors
// already render as "<kind>: level/id: reason", which agent callers can
// branch on.
func errResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

// jsonResult renders v as an indented JSON tool result.
func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(string(out))
}
