package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/ziadkadry99/insightpdf/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server for AI agent integration",
	Long:  `Starts a Model Context Protocol (MCP) server on stdio, exposing ask_pdf, ingest_pdf and index_status tools for AI agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		// Set version from the cmd package variable.
		mcpserver.Version = Version

		st, err := a.engine.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "insightpdf MCP server started on stdio (state=%s, chunks=%d)\n", st.State, st.ChunkCount)

		return mcpserver.NewServer(a.engine).Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
