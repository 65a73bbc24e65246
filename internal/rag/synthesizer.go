package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/ziadkadry99/insightpdf/internal/chunker"
	"github.com/ziadkadry99/insightpdf/internal/llm"
)

// SynthesisResult is a grounded answer. SourcePages are 0-based page indices.
type SynthesisResult struct {
	Answer       string
	SourcePages  []int
	Model        string
	InputTokens  int
	OutputTokens int
}

// Synthesizer answers a question strictly from the supplied chunks.
type Synthesizer struct {
	Generation
	Fallback string
}

func (s Synthesizer) fallback() string {
	if s.Fallback == "" {
		return DefaultFallbackAnswer
	}
	return s.Fallback
}

// Synthesize asks the model for an answer grounded in chunks. Without chunks
// it returns the fallback answer without calling the model.
func (s Synthesizer) Synthesize(ctx context.Context, provider llm.Provider, question string, chunks []chunker.Chunk, history []Turn) (*SynthesisResult, error) {
	fallback := s.fallback()
	if len(chunks) == 0 {
		return &SynthesisResult{Answer: fallback, SourcePages: []int{}}, nil
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: buildQASystemPrompt(fallback, chunks)})
	msgs = append(msgs, toMessages(history)...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: question})

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Messages:    msgs,
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesizing answer: %w", err)
	}

	out := &SynthesisResult{
		Answer:       strings.TrimSpace(resp.Content),
		SourcePages:  []int{},
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	if isFallback(out.Answer, fallback) {
		out.Answer = fallback
		return out, nil
	}
	out.SourcePages = sourcePages(chunks)
	return out, nil
}

// maxFallbackExtraWords bounds the words a reply may add around the fallback
// sentence, such as a short apology, and still count as the fallback.
const maxFallbackExtraWords = 6

// isFallback reports whether the model replied with the fallback sentence.
// Case, markdown emphasis, quotes, punctuation and a short preamble are
// ignored.
func isFallback(answer, fallback string) bool {
	a, f := normalizeReply(answer), normalizeReply(fallback)
	if f == "" {
		return false
	}
	if a == f {
		return true
	}
	i := strings.Index(a, f)
	if i < 0 {
		return false
	}
	rest := a[:i] + " " + a[i+len(f):]
	return len(strings.Fields(rest)) <= maxFallbackExtraWords
}

// normalizeReply lowercases s and reduces it to space-separated words.
func normalizeReply(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '\'', r == '’':
			// Keep contractions together.
			return -1
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// sourcePages returns the distinct pages of chunks in ascending order.
func sourcePages(chunks []chunker.Chunk) []int {
	seen := make(map[int]struct{}, len(chunks))
	pages := make([]int, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.SourcePage]; ok {
			continue
		}
		seen[c.SourcePage] = struct{}{}
		pages = append(pages, c.SourcePage)
	}
	sort.Ints(pages)
	return pages
}
