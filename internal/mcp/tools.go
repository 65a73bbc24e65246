package mcp

import "github.com/mark3labs/mcp-go/mcp"

// askPDFTool defines the ask_pdf MCP tool.
var askPDFTool = mcp.NewTool("ask_pdf",
	mcp.WithDescription("Ask a question about the indexed PDF document. The answer is grounded in the document and cites 1-indexed source pages."),
	mcp.WithString("question",
		mcp.Required(),
		mcp.Description("Natural language question about the document"),
	),
	mcp.WithArray("history",
		mcp.Description("Prior conversation turns, oldest first"),
		mcp.Items(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"role": map[string]any{"type": "string", "enum": []string{"human", "assistant"}},
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"role", "text"},
		}),
	),
	mcp.WithBoolean("include_context",
		mcp.Description("Also return the retrieved document chunks (default false)"),
	),
)

// ingestPDFTool defines the ingest_pdf MCP tool.
var ingestPDFTool = mcp.NewTool("ingest_pdf",
	mcp.WithDescription("Index a local PDF file, replacing the currently indexed document."),
	mcp.WithString("path",
		mcp.Required(),
		mcp.Description("Path or glob of the PDF file; a glob must match exactly one file"),
	),
)

// indexStatusTool defines the index_status MCP tool.
var indexStatusTool = mcp.NewTool("index_status",
	mcp.WithDescription("Report whether a document is indexed and how many chunks it holds."),
)
