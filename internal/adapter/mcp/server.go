// Package mcp exposes the hive's memory and swarm operations as Model
// Context Protocol tools so external agents can use them directly.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kestrelworks/hive/internal/domain/memory"
	"github.com/kestrelworks/hive/internal/service"
)

// MemoryStore is the slice of the composite memory service the tools need.
type MemoryStore interface {
	Add(ctx context.Context, e *memory.Entry) (string, error)
	Query(ctx context.Context, f memory.Filter) ([]*memory.Entry, error)
	Search(ctx context.Context, text string, opts memory.SearchOptions) ([]*memory.Entry, error)
}

// SwarmReader reads the coordinator's agent registry.
type SwarmReader interface {
	GetStats() service.Stats
	AllAgents() []*service.ManagedAgent
	HierarchyTree() map[string][]string
}

// ServerConfig configures the MCP server transport.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	// APIKey enables bearer-token auth on the HTTP transport when set.
	APIKey string
}

// ServerDeps are the backing services the tools call into. Nil deps make
// the corresponding tools return an error result instead of panicking.
type ServerDeps struct {
	Memory MemoryStore
	Swarm  SwarmReader
}

// Server hosts the MCP tools over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *http.Server
	log       *slog.Logger
}

// NewServer builds the server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  slog.Default().With("component", "mcp"),
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithResourceCapabilities(true, true),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Start serves the MCP endpoint in the background.
func (s *Server) Start() error {
	var handler http.Handler = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	if s.cfg.APIKey != "" {
		handler = AuthMiddleware(s.cfg.APIKey, handler)
	}
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("mcp server stopped", "error", err)
		}
	}()
	s.log.Info("mcp server listening", "addr", s.cfg.Addr)
	return nil
}

// Stop shuts the HTTP transport down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
