// Package resources implements the MCP resource surface for resolved context.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (context://{level}/{id}) following MCP
// conventions; reading a URI returns the same merged view context_get would.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stratum-mcp/stratum/internal/facade"
	"github.com/stratum-mcp/stratum/internal/hierarchy"
)

// Handler serves resolved views over the resource surface.
type Handler struct {
	facade *facade.Facade
}

// NewHandler creates a resource Handler over the facade.
func NewHandler(f *facade.Facade) *Handler {
	return &Handler{facade: f}
}

// Template returns the resource template for resolved context views.
func (h *Handler) Template() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		"context://{level}/{id}",
		"Resolved Context",
		mcp.WithTemplateDescription("Merged context at a hierarchy level: the record's own data plus everything inherited from its ancestors"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// HandleRead serves a context://{level}/{id} read. The identity middleware
// has already attached the verified principal to ctx.
func (h *Handler) HandleRead(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	level, id, err := parseURI(req.Params.URI)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	view, err := h.facade.GetResolved(ctx, level, id)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("resources: marshal resolved view: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// parseURI splits context://{level}/{id}. The id may be empty only at the
// global level, where it resolves the caller's own root.
func parseURI(uri string) (hierarchy.Level, string, error) {
	rest, ok := strings.CutPrefix(uri, "context://")
	if !ok {
		return "", "", fmt.Errorf("resources: uri %q does not match context://{level}/{id}", uri)
	}
	levelPart, id, _ := strings.Cut(rest, "/")
	level, err := hierarchy.ParseLevel(levelPart)
	if err != nil {
		return "", "", err
	}
	if id == "" && level != hierarchy.LevelGlobal {
		return "", "", fmt.Errorf("resources: uri %q is missing the record id", uri)
	}
	return level, id, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
