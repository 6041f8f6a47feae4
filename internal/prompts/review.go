// Package prompts implements MCP prompt handlers for the context engine.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ReviewPrompt handles the context-review MCP prompt.
// It guides the AI through reviewing a task's context and promoting
// durable learnings up the hierarchy.
type ReviewPrompt struct{}

// NewReviewPrompt creates a ReviewPrompt.
func NewReviewPrompt() *ReviewPrompt {
	return &ReviewPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *ReviewPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("context-review",
		mcp.WithPromptDescription(
			"Review a task's accumulated context and promote anything durable — "+
				"decisions, gotchas, conventions — to the project or global level "+
				"so future tasks inherit it.",
		),
		mcp.WithArgument("task_id",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Id of the task context to review"),
		),
	)
}

// Handle processes the context-review prompt request.
func (p *ReviewPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	taskID := ""
	if args := req.Params.Arguments; args != nil {
		taskID = args["task_id"]
	}
	if taskID == "" {
		return nil, fmt.Errorf("prompts: context-review requires task_id")
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Review context of task %s", taskID),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Please review the context accumulated on task '%s'.\n\n"+
						"1. Run `context_get` with level='task', id='%s' and look at the keys the task set itself (not in inherited_from)\n"+
						"2. Identify entries worth keeping beyond this task: decisions, root causes, conventions, gotchas\n"+
						"3. For each, run `context_delegate` from the task to the narrowest ancestor that should inherit it (project for project-wide facts, global for personal preferences)\n"+
						"4. Summarize what you promoted and what you left task-local, and why",
					taskID, taskID,
				)),
			},
		},
	}, nil
}
