package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/chunkrag/internal/app"
	"github.com/dshills/chunkrag/internal/logger"
)

const (
	// ServerName is the MCP server name
	ServerName = "chunkrag"
)

// ServerVersion is reported during initialization. Overridden at build time
// through the CLI.
var ServerVersion = "dev"

// Server exposes an App as MCP tools
type Server struct {
	mcp    *server.MCPServer
	app    *app.App
	logger *zap.Logger
}

// NewServer creates an MCP server backed by a. The caller keeps ownership of
// a and closes it after Serve returns.
func NewServer(a *app.App, l *zap.Logger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		app:    a,
		logger: logger.OrNop(l),
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until ctx is canceled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio", zap.String("version", ServerVersion))
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(findSymbolTool(), s.handleFindSymbol)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
