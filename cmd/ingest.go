package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/insightpdf/internal/extract"
	"github.com/ziadkadry99/insightpdf/internal/progress"
	"github.com/ziadkadry99/insightpdf/internal/rag"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf>",
	Short: "Index a PDF, replacing any previously indexed document",
	Long: `Extracts the text of a PDF, splits it into chunks, embeds them and stores
them in the vector index. The path may be a glob pattern that matches exactly
one PDF. A failed ingestion leaves the previous document in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path, err := extract.ResolvePath(args[0])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		name := filepath.Base(path)
		res, err := a.engine.Ingest(ctx, data,
			rag.WithFilename(name),
			rag.WithProgress(progress.Callback(progress.NewReporter(os.Stderr))),
		)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s: %d chunks from %d pages\n", name, res.ChunkCount, res.PageCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
