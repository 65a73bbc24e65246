package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/insightpdf/internal/db"
	"github.com/ziadkadry99/insightpdf/internal/rag"
)

var statusJSON bool

type statusOutput struct {
	State      rag.State     `json:"state"`
	ChunkCount int           `json:"chunk_count"`
	Document   *db.Ingestion `json:"document,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a document is indexed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.engine.Status(ctx)
		if err != nil {
			return err
		}
		res := statusOutput{State: st.State, ChunkCount: st.ChunkCount}
		if st.State == rag.StateIndexed {
			doc, err := a.ingestions.Latest(ctx)
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				return err
			}
			res.Document = doc
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		fmt.Fprintf(out, "State:  %s\n", res.State)
		fmt.Fprintf(out, "Chunks: %d\n", res.ChunkCount)
		if d := res.Document; d != nil {
			fmt.Fprintf(out, "File:   %s (%d pages, ingested %s)\n", d.Filename, d.PageCount, d.StartedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status as JSON")
	rootCmd.AddCommand(statusCmd)
}
