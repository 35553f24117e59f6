package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/highlights-mcp/internal/engine"
	"github.com/dshills/highlights-mcp/internal/indexer"
	"github.com/dshills/highlights-mcp/internal/pairing"
)

const (
	// ServerName is the MCP server name
	ServerName = "highlights-mcp"
)

// Backend is the engine surface exposed as tools
type Backend interface {
	Search(ctx context.Context, params engine.SearchParams) (*engine.SearchResult, error)
	SelectPair(ctx context.Context, req pairing.Request) (*engine.Pair, error)
	Reindex(ctx context.Context) (*indexer.Statistics, error)
	Status(ctx context.Context) (*engine.Status, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	backend Backend
	logger  *slog.Logger
}

// NewServer creates a new MCP server instance over backend
func NewServer(backend Backend, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:     server.NewMCPServer(ServerName, version),
		backend: backend,
		logger:  logger,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until the client
// disconnects or ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchHighlightsTool(), s.handleSearchHighlights)
	s.mcp.AddTool(selectPairTool(), s.handleSelectPair)
	s.mcp.AddTool(reindexTool(), s.handleReindex)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
