// Stratum: hierarchical context engine MCP server
//
// A multi-tenant context store for AI coding agents: durable preferences,
// project conventions, and task findings organized as an inheriting
// GLOBAL → PROJECT → BRANCH → TASK hierarchy, served over MCP stdio.
//
// Usage:
//
//	stratum serve     # Start MCP server (stdio transport)
//	stratum version   # Print the version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"github.com/stratum-mcp/stratum/internal/config"
	stratumserver "github.com/stratum-mcp/stratum/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("stratum v%s\n", stratumserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Graceful shutdown on interrupt.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	s, cleanup, err := stratumserver.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	return server.ServeStdio(s)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Stratum v%s — Hierarchical Context Engine MCP Server

Usage:
  stratum serve     Start the MCP server (stdio transport)
  stratum version   Print the version

Configuration:
  stratum.yaml in the working directory or ~/.stratum, and STRATUM_*
  environment variables (e.g. STRATUM_AUTH_USER_ID, STRATUM_BACKEND_KIND).

  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "stratum": {
        "command": "stratum",
        "args": ["serve"],
        "env": { "STRATUM_AUTH_USER_ID": "you@example.com" }
      }
    }
  }
`, stratumserver.Version)
}
