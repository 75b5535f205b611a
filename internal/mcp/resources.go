package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	collectionsURI = "notionsync://collections"
	latestRunURI   = "notionsync://runs/latest"
)

func (s *Server) registerResources() {
	// ── notionsync://collections ───────────────────────
	s.mcp.AddResource(mcp.NewResource(
		collectionsURI,
		"Collection Directory",
		mcp.WithMIMEType("application/json"),
	), s.handleCollectionsResource)

	// ── notionsync://runs/latest ───────────────────────
	s.mcp.AddResource(mcp.NewResource(
		latestRunURI,
		"Latest Sync Pass",
		mcp.WithMIMEType("application/json"),
	), s.handleLatestRunResource)
}

func (s *Server) handleCollectionsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	collections, _, err := s.sync.Collections()
	if err != nil {
		return nil, err
	}

	type collectionSummary struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Table     string `json:"table"`
		Replicate bool   `json:"replicate"`
	}

	summaries := make([]collectionSummary, 0, len(collections))
	for _, c := range collections {
		summaries = append(summaries, collectionSummary{ID: c.ID, Name: c.Name, Table: c.Table, Replicate: c.Replicate})
	}
	return jsonResource(collectionsURI, summaries)
}

func (s *Server) handleLatestRunResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("run history is not enabled")
	}
	runs, err := s.runs.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	var latest any
	if len(runs) > 0 {
		latest = runs[0]
	}
	return jsonResource(latestRunURI, latest)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
