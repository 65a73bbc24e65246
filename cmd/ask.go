package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/insightpdf/internal/rag"
	"github.com/ziadkadry99/insightpdf/internal/vectordb"
)

var (
	askJSON        bool
	askShowContext bool
)

type askOutput struct {
	Answer      string `json:"answer"`
	SourcePages []int  `json:"source_pages"`
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question about the indexed PDF",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := requireDocument(ctx, a.engine); err != nil {
			return err
		}

		ans, err := a.engine.Answer(ctx, strings.Join(args, " "), nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if askJSON {
			pages := ans.SourcePages
			if pages == nil {
				pages = []int{}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(askOutput{Answer: ans.Text, SourcePages: pages})
		}
		printAnswer(out, ans, askShowContext)
		return nil
	},
}

// printAnswer writes an answer, its source pages and optionally the
// retrieved chunks.
func printAnswer(w io.Writer, ans *rag.Answer, showContext bool) {
	fmt.Fprintln(w, ans.Text)
	if len(ans.SourcePages) > 0 {
		pages := make([]string, len(ans.SourcePages))
		for i, p := range ans.SourcePages {
			pages[i] = fmt.Sprint(p)
		}
		fmt.Fprintf(w, "\nSource pages: %s\n", strings.Join(pages, ", "))
	}
	if showContext && len(ans.Context) > 0 {
		fmt.Fprintf(w, "\n%s", vectordb.FormatResults(ans.Context))
	}
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the answer as JSON")
	askCmd.Flags().BoolVar(&askShowContext, "show-context", false, "print the retrieved chunks")
	rootCmd.AddCommand(askCmd)
}
