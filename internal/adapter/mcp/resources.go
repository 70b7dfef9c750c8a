package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/kestrelworks/hive/internal/domain/memory"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"hive://memory/recent",
			"Recent Memories",
			mcplib.WithResourceDescription("The fifty most recent memory entries across all backends"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentMemoriesResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"hive://swarm/stats",
			"Swarm Stats",
			mcplib.WithResourceDescription("Agent counts, status breakdown and the hierarchy tree"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSwarmStatsResource,
	)
}

func (s *Server) handleRecentMemoriesResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Memory == nil {
		return errorResource(req.Params.URI, "memory store not configured"), nil
	}
	entries, err := s.deps.Memory.Query(ctx, memory.Filter{
		OrderBy:  memory.OrderByTimestamp,
		OrderDir: memory.OrderDesc,
		Limit:    50,
	})
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, string(data)), nil
}

func (s *Server) handleSwarmStatsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Swarm == nil {
		return errorResource(req.Params.URI, "swarm reader not configured"), nil
	}
	out := map[string]any{
		"stats":     s.deps.Swarm.GetStats(),
		"hierarchy": s.deps.Swarm.HierarchyTree(),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, string(data)), nil
}

func jsonResource(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     text,
		},
	}
}

func errorResource(uri, msg string) []mcplib.ResourceContents {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return jsonResource(uri, string(data))
}
