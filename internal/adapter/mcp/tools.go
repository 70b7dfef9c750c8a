package mcp

import (
	"context"
	"encoding/json"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kestrelworks/hive/internal/domain/memory"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.memorySaveTool(),
		s.memorySearchTool(),
		s.memoryQueryTool(),
		s.swarmStatsTool(),
	)
}

func (s *Server) memorySaveTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("memory_save",
		mcplib.WithDescription("Save a typed memory entry to the hive's memory"),
		mcplib.WithString("content",
			mcplib.Required(),
			mcplib.Description("The content to remember"),
		),
		mcplib.WithString("type",
			mcplib.Required(),
			mcplib.Description("Memory type: action, error, success, plan, decision, context, lesson, session or conversation"),
		),
		mcplib.WithString("agent_id", mcplib.Description("Agent the memory belongs to")),
		mcplib.WithString("task_id", mcplib.Description("Task the memory relates to")),
		mcplib.WithString("tags", mcplib.Description("Comma-separated tags")),
		mcplib.WithString("importance", mcplib.Description("low, medium, high or critical")),
		mcplib.WithNumber("ttl", mcplib.Description("Advisory lifetime in seconds, 0 for none")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleMemorySave}
}

func (s *Server) memorySearchTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("memory_search",
		mcplib.WithDescription("Full-text search across all memory backends"),
		mcplib.WithString("query",
			mcplib.Required(),
			mcplib.Description("Text to search for"),
		),
		mcplib.WithString("types", mcplib.Description("Comma-separated memory types to restrict the search to")),
		mcplib.WithNumber("limit", mcplib.Description("Maximum number of results")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleMemorySearch}
}

func (s *Server) memoryQueryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("memory_query",
		mcplib.WithDescription("Query memory entries by type, agent, task or tags"),
		mcplib.WithString("types", mcplib.Description("Comma-separated memory types")),
		mcplib.WithString("agent_id", mcplib.Description("Restrict to one agent")),
		mcplib.WithString("task_id", mcplib.Description("Restrict to one task")),
		mcplib.WithString("tags", mcplib.Description("Comma-separated tags, entries matching any are returned")),
		mcplib.WithString("order_by", mcplib.Description("timestamp or importance")),
		mcplib.WithString("order_dir", mcplib.Description("asc or desc")),
		mcplib.WithNumber("limit", mcplib.Description("Maximum number of results")),
		mcplib.WithNumber("offset", mcplib.Description("Number of results to skip")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleMemoryQuery}
}

func (s *Server) swarmStatsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("swarm_stats",
		mcplib.WithDescription("Get agent counts, status breakdown and the hierarchy tree"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSwarmStats}
}

func (s *Server) handleMemorySave(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Memory == nil {
		return mcplib.NewToolResultError("memory store not configured"), nil
	}
	args := req.GetArguments()
	content := stringArg(args, "content")
	typ := memory.Type(stringArg(args, "type"))
	if content == "" || typ == "" {
		return mcplib.NewToolResultError("content and type are required"), nil
	}
	e := &memory.Entry{
		Type:    typ,
		Content: content,
		Metadata: memory.Metadata{
			AgentID:    stringArg(args, "agent_id"),
			TaskID:     stringArg(args, "task_id"),
			Tags:       listArg(args, "tags"),
			Importance: memory.Importance(stringArg(args, "importance")),
			Source:     "mcp",
		},
		TTL: intArg(args, "ttl"),
	}
	id, err := s.deps.Memory.Add(ctx, e)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to save memory", err), nil
	}
	data, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleMemorySearch(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Memory == nil {
		return mcplib.NewToolResultError("memory store not configured"), nil
	}
	args := req.GetArguments()
	query := stringArg(args, "query")
	if query == "" {
		return mcplib.NewToolResultError("query is required"), nil
	}
	entries, err := s.deps.Memory.Search(ctx, query, memory.SearchOptions{
		Types: typesArg(args, "types"),
		Limit: intArg(args, "limit"),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("search failed", err), nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal entries", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleMemoryQuery(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Memory == nil {
		return mcplib.NewToolResultError("memory store not configured"), nil
	}
	args := req.GetArguments()
	entries, err := s.deps.Memory.Query(ctx, memory.Filter{
		Types:    typesArg(args, "types"),
		AgentID:  stringArg(args, "agent_id"),
		TaskID:   stringArg(args, "task_id"),
		Tags:     listArg(args, "tags"),
		OrderBy:  memory.OrderBy(stringArg(args, "order_by")),
		OrderDir: memory.OrderDir(stringArg(args, "order_dir")),
		Limit:    intArg(args, "limit"),
		Offset:   intArg(args, "offset"),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("query failed", err), nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal entries", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleSwarmStats(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Swarm == nil {
		return mcplib.NewToolResultError("swarm reader not configured"), nil
	}
	out := map[string]any{
		"stats":     s.deps.Swarm.GetStats(),
		"hierarchy": s.deps.Swarm.HierarchyTree(),
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal stats", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func toolResultJSON(text string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(text)
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg reads a numeric argument; JSON numbers decode as float64.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func listArg(args map[string]any, key string) []string {
	raw := stringArg(args, key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func typesArg(args map[string]any, key string) []memory.Type {
	parts := listArg(args, key)
	if len(parts) == 0 {
		return nil
	}
	out := make([]memory.Type, 0, len(parts))
	for _, p := range parts {
		out = append(out, memory.Type(p))
	}
	return out
}
