package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"notionsync/internal/storage"
)

const defaultRunLimit = 20

func (s *Server) registerRunTools() {
	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent sync passes, newest first, with per-table outcomes"),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListRuns)

	s.mcp.AddTool(mcp.NewTool("get_run",
		mcp.WithDescription("Get one sync pass by id"),
		mcp.WithString("runId", mcp.Description("Run ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleGetRun)
}

func (s *Server) handleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runs == nil {
		return errorResult(errors.New("run history is not enabled")), nil
	}
	limit := intArg(req.GetArguments(), "limit", defaultRunLimit)
	runs, err := s.runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	return jsonResult(runs)
}

func (s *Server) handleGetRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runs == nil {
		return errorResult(errors.New("run history is not enabled")), nil
	}
	id := req.GetString("runId", "")
	if id == "" {
		return errorResult(errors.New("runId is required")), nil
	}
	run, err := s.runs.GetRun(ctx, id)
	if errors.Is(err, storage.ErrRunNotFound) {
		return errorResult(fmt.Errorf("run %s not found", id)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return jsonResult(run)
}
