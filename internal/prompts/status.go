package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the context-status MCP prompt.
// It instructs the AI to read and present the current context state.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("context-status",
		mcp.WithPromptDescription(
			"Show what the context engine currently knows: your global "+
				"preferences and engine statistics.",
		),
	)
}

// Handle processes the context-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Context Engine Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `context_get` with level='global' to read my root context, " +
						"then `context_stats` for engine statistics.\n\n" +
						"Then:\n" +
						"1. Summarize my global preferences in a short list\n" +
						"2. Report the storage backend and cache numbers\n" +
						"3. Suggest stale or contradictory entries I might want to clean up",
				),
			},
		},
	}, nil
}
