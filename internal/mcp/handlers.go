package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/insightpdf/internal/extract"
	"github.com/ziadkadry99/insightpdf/internal/rag"
	"github.com/ziadkadry99/insightpdf/internal/vectordb"
)

// handleAskPDF answers a question from the indexed document.
func (s *Server) handleAskPDF(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}

	history, err := parseHistory(request.GetArguments()["history"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid history: %v", err)), nil
	}

	st, err := s.engine.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading index status: %v", err)), nil
	}
	if st.State == rag.StateEmpty {
		return mcp.NewToolResultError("No document is indexed yet. Call ingest_pdf or run `insightpdf ingest` first."), nil
	}

	answer, err := s.engine.Answer(ctx, question, history)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatAnswer(answer, request.GetBool("include_context", false))), nil
}

// handleIngestPDF reads a local PDF and replaces the index with it.
func (s *Server) handleIngestPDF(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}

	path, err := extract.ResolvePath(pattern)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read %s: %v", path, err)), nil
	}

	res, err := s.engine.Ingest(ctx, data, rag.WithFilename(filepath.Base(path)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Ingested %s: %d chunks from %d pages. The previous document was replaced.",
		filepath.Base(path), res.ChunkCount, res.PageCount,
	)), nil
}

// handleIndexStatus reports the index state.
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.engine.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading index status: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("State: %s\nChunks: %d", st.State, st.ChunkCount)), nil
}

// parseHistory converts the tool's history argument into turns. It
// accepts role/text objects and [question, answer] pairs.
func parseHistory(arg any) ([]rag.Turn, error) {
	if arg == nil {
		return []rag.Turn{}, nil
	}
	data, err := json.Marshal(arg)
	if err != nil {
		return nil, err
	}
	return rag.ParseHistory(data)
}

// formatAnswer renders an answer for agent consumption.
func formatAnswer(a *rag.Answer, includeContext bool) string {
	var sb strings.Builder
	sb.WriteString(a.Text)
	if len(a.SourcePages) > 0 {
		pages := make([]string, len(a.SourcePages))
		for i, p := range a.SourcePages {
			pages[i] = fmt.Sprint(p)
		}
		sb.WriteString("\n\nSource pages: ")
		sb.WriteString(strings.Join(pages, ", "))
	}
	if includeContext {
		sb.WriteString("\n\n")
		sb.WriteString(vectordb.FormatResults(a.Context))
	}
	return sb.String()
}
