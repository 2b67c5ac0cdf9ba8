// Package mcpserver wires the MCP JSON-RPC stdio endpoint (component C),
// dispatching to the tool registry (component D), per spec.md §4.C.
package mcpserver

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/wardenhq/warden/internal/agentspec"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/pool"
	"github.com/wardenhq/warden/internal/tools"
	"go.uber.org/zap"
)

const serverName = "warden-mcp"

// Version is set at build time via -ldflags, mirroring the teacher's
// version-stamping convention.
var Version = "dev"

// Run starts the MCP server over stdin/stdout and blocks until ctx is
// cancelled or the transport reports EOF (the parent agent process exited).
// auditLog may be nil, in which case background-agent runs aren't persisted.
func Run(ctx context.Context, log *logging.Logger, brand, ipcDir string, maxAgents int, specs agentspec.Table, auditLog *audit.Log) error {
	log = log.WithFields(zap.String("component", "mcpserver"))

	agentPool := pool.New(maxAgents, specs, log, auditLog)
	registry := tools.New(log, agentPool, brand, ipcDir)

	mcpServer := server.NewMCPServer(serverName, Version)
	registry.Register(mcpServer)

	stdio := server.NewStdioServer(mcpServer)
	log.Info("mcp server starting", zap.Int("max_background_agents", maxAgents))

	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		if err == io.EOF || err == context.Canceled {
			return nil
		}
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
