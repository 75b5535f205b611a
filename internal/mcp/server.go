package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"notionsync/internal/relations"
	"notionsync/internal/service"
	"notionsync/internal/storage"
)

// RunLister reads the run history.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]storage.Run, error)
	GetRun(ctx context.Context, id string) (*storage.Run, error)
}

// Server is the MCP server for notionsync.
// It exposes tools and resources so AI agents can trigger syncs and inspect
// the mirror.
type Server struct {
	mcp    *server.MCPServer
	sync   *service.SyncService
	runs   RunLister
	logger *zap.Logger

	// relationDefaults seeds materialize_relations arguments
	relationDefaults relations.Options
}

// Deps holds all dependencies passed from the command layer to the MCP server.
type Deps struct {
	Sync             *service.SyncService
	Runs             RunLister // optional
	RelationDefaults relations.Options
	Logger           *zap.Logger
	Version          string
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	s := &Server{
		sync:             deps.Sync,
		runs:             deps.Runs,
		logger:           deps.Logger,
		relationDefaults: deps.RelationDefaults,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s.mcp = server.NewMCPServer(
		"notionsync",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerSyncTools()
	s.registerRunTools()
	s.registerResources()

	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp: starting stdio server")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// errorResult reports a failed call to the agent without failing the request.
func errorResult(err error) *mcp.CallToolResult {
	res := textResult(err.Error())
	res.IsError = true
	return res
}
