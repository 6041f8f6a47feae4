// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it opens the configured storage backend and
// injects it through repository, cache, resolver, delegation, and facade into
// the tool and resource handlers. No business logic lives here — only wiring.
package server

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stratum-mcp/stratum/internal/config"
	"github.com/stratum-mcp/stratum/internal/ctxtools"
	"github.com/stratum-mcp/stratum/internal/delegate"
	"github.com/stratum-mcp/stratum/internal/facade"
	"github.com/stratum-mcp/stratum/internal/identity"
	"github.com/stratum-mcp/stratum/internal/prompts"
	"github.com/stratum-mcp/stratum/internal/repo"
	"github.com/stratum-mcp/stratum/internal/rescache"
	"github.com/stratum-mcp/stratum/internal/resolver"
	"github.com/stratum-mcp/stratum/internal/resources"
	"github.com/stratum-mcp/stratum/internal/store"

	// Storage backends register themselves with the store factory.
	_ "github.com/stratum-mcp/stratum/internal/store/memstore"
	_ "github.com/stratum-mcp/stratum/internal/store/postgres"
	_ "github.com/stratum-mcp/stratum/internal/store/sqlite"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools, prompts, and
// resources registered. This is the single place where all dependencies are
// resolved.
//
// The returned cleanup function stops the cache's expiry loop and closes the
// storage backend; it must be called on shutdown (typically via defer). It is
// always non-nil and safe to call.
func New(ctx context.Context, cfg config.Config) (*server.MCPServer, func(), error) {
	// The stdio transport owns stdout, so all logging goes to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	adapter, err := store.Open(ctx, cfg.Backend)
	if err != nil {
		return nil, noop, err
	}

	cache := rescache.New(cfg.Cache)
	cleanup := func() {
		cache.Stop()
		if err := adapter.Close(); err != nil {
			log.Warn("closing storage backend", "err", err)
		}
	}

	r := repo.New(adapter, cfg.Backend, log)
	res := resolver.New(r, cache, log)
	del := delegate.New(r, cfg.Delegation, log)
	f := facade.New(r, res, del, cache, log)

	s := server.NewMCPServer(
		"stratum",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(identityMiddleware(cfg.Auth.UserID)),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register context tools ---

	getTool := ctxtools.NewGetTool(f)
	s.AddTool(getTool.Definition(), getTool.Handle)

	updateTool := ctxtools.NewUpdateTool(f)
	s.AddTool(updateTool.Definition(), updateTool.Handle)

	delegateTool := ctxtools.NewDelegateTool(f)
	s.AddTool(delegateTool.Definition(), delegateTool.Handle)

	deleteTool := ctxtools.NewDeleteTool(f)
	s.AddTool(deleteTool.Definition(), deleteTool.Handle)

	statsTool := ctxtools.NewStatsTool(f)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	// --- Register prompts ---

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	reviewPrompt := prompts.NewReviewPrompt()
	s.AddPrompt(reviewPrompt.Definition(), reviewPrompt.Handle)

	// --- Register resources ---
	//
	// Resource reads don't pass through the tool middleware, so the handler
	// is wrapped with the same identity injection.
	resourceHandler := resources.NewHandler(f)
	s.AddResourceTemplate(resourceHandler.Template(),
		func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			return resourceHandler.HandleRead(withIdentity(ctx, cfg.Auth.UserID), req)
		})

	log.Info("server assembled", "backend", adapter.Kind(), "version", Version)
	return s, cleanup, nil
}

// noop is the default cleanup when New fails before anything was opened.
func noop() {}

// identityMiddleware attaches the configured principal to every tool call's
// context. The stdio transport serves exactly one verified user per process.
// An empty user id is NOT injected: every operation then fails with
// authentication_required instead of running unattributed.
func identityMiddleware(userID string) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return next(withIdentity(ctx, userID), req)
		}
	}
}

func withIdentity(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return identity.WithUser(ctx, userID)
}

// serverInstructions returns the system instructions that tell the AI how to
// use the context engine effectively.
func serverInstructions() string {
	return `You have access to stratum, a hierarchical context engine.

## THE HIERARCHY

Context lives at four levels, each inheriting from the one above:
GLOBAL (your durable preferences) → PROJECT → BRANCH → TASK.
Reading any level with context_get returns the merged view: the record's own
data plus everything inherited from its ancestors. More specific levels win
on conflicts.

## HOW TO USE IT

- At the start of work, read the relevant level with context_get — the
  inherited view usually answers setup questions without asking the user.
- Record facts where they belong: task-local findings at task level,
  project-wide conventions at project level, personal preferences at global.
- When a task uncovers something durable (a root cause, a decision, a
  convention), promote it with context_delegate so sibling branches and
  future tasks inherit it.
- New branch records should name their project via project_id; new task
  records their branch via branch_id. That link is what drives inheritance.
- Delete task contexts when the task is done if their content was promoted.

## RULES

- Never pass a user_id argument; identity comes from the session.
- Null values in a context_update data object delete keys.
- List values merge ancestor-first; pass the key in replace_keys to override
  the inherited list instead.`
}
