package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/insightpdf/internal/rag"
)

var chatShowContext bool

// answerer is the part of the engine a chat session needs.
type answerer interface {
	Answer(ctx context.Context, question string, history []rag.Turn) (*rag.Answer, error)
}

// chatSession keeps the conversation client-side and sends it with every
// question, the same way an HTTP client would.
type chatSession struct {
	engine  answerer
	history []rag.Turn
}

// ask answers question and, on success, appends the exchange to the history.
// A fallback answer is kept too so follow-ups can refer to it.
func (c *chatSession) ask(ctx context.Context, question string) (*rag.Answer, error) {
	ans, err := c.engine.Answer(ctx, question, c.history)
	if err != nil {
		return nil, err
	}
	c.history = append(c.history,
		rag.Turn{Role: rag.RoleHuman, Text: question},
		rag.Turn{Role: rag.RoleAssistant, Text: ans.Text},
	)
	return ans, nil
}

func (c *chatSession) reset() { c.history = nil }

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation about the indexed PDF",
	Long: `Opens a terminal chat. Follow-up questions can refer to earlier turns.
Type /reset to forget the conversation and /exit (or Ctrl-D) to quit.`,
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

		return runChat(ctx, cmd.OutOrStdout(), &chatSession{engine: a.engine})
	},
}

func runChat(ctx context.Context, out io.Writer, session *chatSession) error {
	fmt.Fprintln(out, "Ask a question about the document. /reset clears the conversation, /exit quits.")
	for {
		prompt := promptui.Prompt{Label: "You"}
		input, err := prompt.Run()
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			session.reset()
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}

		ans, err := session.ask(ctx, input)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(out)
		printAnswer(out, ans, chatShowContext)
		fmt.Fprintln(out)
	}
}

func init() {
	chatCmd.Flags().BoolVar(&chatShowContext, "show-context", false, "print the retrieved chunks after each answer")
	rootCmd.AddCommand(chatCmd)
}
