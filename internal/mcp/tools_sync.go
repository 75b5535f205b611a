package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"notionsync/internal/relations"
	"notionsync/internal/service"
)

func (s *Server) registerSyncTools() {
	s.mcp.AddTool(mcp.NewTool("sync_collections",
		mcp.WithDescription("Run one incremental sync pass from Notion into the destination database, followed by the relations pass. Table failures are reported in the summary."),
		mcp.WithArray("tables", mcp.Description("Destination tables to sync (optional, defaults to every replicated collection)")),
		mcp.WithBoolean("full", mcp.Description("Ignore stored watermarks and resync every record")),
		mcp.WithBoolean("skipRelations", mcp.Description("Do not rebuild junction tables after the pass")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(false), IdempotentHint: boolPtr(true)}),
	), s.handleSyncCollections)

	s.mcp.AddTool(mcp.NewTool("materialize_relations",
		mcp.WithDescription("Rebuild the junction tables of every declared relation from the mirrored rows"),
		mcp.WithString("policy", mcp.Description("deduplicate (one table per table pair) or directional (one table per direction)")),
		mcp.WithBoolean("dryRun", mcp.Description("Only report which junction tables would be built")),
	), s.handleMaterializeRelations)

	s.mcp.AddTool(mcp.NewTool("list_collections",
		mcp.WithDescription("List the collection directory and the resolved relation declarations"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListCollections)
}

func (s *Server) handleSyncCollections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	result, err := s.sync.RunOnce(ctx, service.RunRequest{
		Full:          boolArg(args, "full", false),
		Tables:        stringList(args, "tables"),
		SkipRelations: boolArg(args, "skipRelations", false),
		Mode:          service.ModeMCP,
	})
	if err != nil {
		return errorResult(fmt.Errorf("sync collections: %w", err)), nil
	}
	return jsonResult(map[string]any{
		"summary": result.Sync.String(),
		"result":  result,
	})
}

func (s *Server) handleMaterializeRelations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	opts := s.relationDefaults
	if p := req.GetString("policy", ""); p != "" {
		policy, err := relations.ParsePolicy(p)
		if err != nil {
			return errorResult(err), nil
		}
		opts.Policy = policy
	}
	opts.DryRun = boolArg(args, "dryRun", false)
	opts.DropAll = false

	result, err := s.sync.Materialize(ctx, opts)
	if err != nil {
		return errorResult(fmt.Errorf("materialize relations: %w", err)), nil
	}
	return jsonResult(map[string]any{
		"summary": result.String(),
		"result":  result,
	})
}

func (s *Server) handleListCollections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collections, specs, err := s.sync.Collections()
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"collections": collections,
		"relations":   specs,
	})
}
