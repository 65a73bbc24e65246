package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/insightpdf/internal/rag"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Engine is the question-answering core exposed over MCP.
type Engine interface {
	Ingest(ctx context.Context, data []byte, opts ...rag.IngestOption) (*rag.IngestResult, error)
	Answer(ctx context.Context, question string, history []rag.Turn) (*rag.Answer, error)
	Status(ctx context.Context) (*rag.Status, error)
}

// Server wraps an MCP server that exposes the indexed PDF to agents.
type Server struct {
	engine Engine
	mcp    *server.MCPServer
}

// NewServer creates a new MCP server around engine.
func NewServer(engine Engine) *Server {
	s := &Server{engine: engine}

	s.mcp = server.NewMCPServer(
		"insightpdf",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(askPDFTool, s.handleAskPDF)
	s.mcp.AddTool(ingestPDFTool, s.handleIngestPDF)
	s.mcp.AddTool(indexStatusTool, s.handleIndexStatus)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
