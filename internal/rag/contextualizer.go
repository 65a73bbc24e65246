package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/ziadkadry99/insightpdf/internal/llm"
)

// Generation holds the sampling settings shared by every model call.
type Generation struct {
	Temperature float64
	MaxTokens   int
}

// Contextualizer rewrites follow-up questions into standalone ones.
type Contextualizer struct {
	Generation
}

// Contextualize returns question unchanged when history is empty. Otherwise
// the model reformulates it against the history without answering it. An
// empty rewrite falls back to the original question.
func (c Contextualizer) Contextualize(ctx context.Context, provider llm.Provider, question string, history []Turn) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: contextualizeSystemPrompt})
	msgs = append(msgs, toMessages(history)...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: question})

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Messages:    msgs,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("contextualizing question: %w", err)
	}

	standalone := strings.TrimSpace(resp.Content)
	if standalone == "" {
		return question, nil
	}
	return standalone, nil
}
