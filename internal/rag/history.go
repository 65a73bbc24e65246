package rag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ziadkadry99/insightpdf/internal/llm"
)

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn is one message of caller-supplied conversation history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ParseRole accepts the canonical role names and the aliases "user" and
// "ai", case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "human", "user":
		return RoleHuman, nil
	case "assistant", "ai":
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// PairsToTurns converts [question, answer] pairs into alternating turns.
// Empty halves are skipped.
func PairsToTurns(pairs [][2]string) []Turn {
	turns := make([]Turn, 0, len(pairs)*2)
	for _, p := range pairs {
		if strings.TrimSpace(p[0]) != "" {
			turns = append(turns, Turn{Role: RoleHuman, Text: p[0]})
		}
		if strings.TrimSpace(p[1]) != "" {
			turns = append(turns, Turn{Role: RoleAssistant, Text: p[1]})
		}
	}
	return turns
}

// wireTurn is one history entry in object form. "content" is accepted as an
// alias for "text".
type wireTurn struct {
	Role    string `json:"role"`
	Text    string `json:"text"`
	Content string `json:"content"`
}

// ParseHistory decodes conversation history given either as role/text
// objects or as [question, answer] pairs. The two forms may be mixed. Null
// or empty input yields an empty, non-nil slice.
func ParseHistory(raw json.RawMessage) ([]Turn, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []Turn{}, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("history must be an array")
	}

	turns := make([]Turn, 0, len(entries))
	for i, entry := range entries {
		entry = bytes.TrimSpace(entry)
		if len(entry) == 0 {
			continue
		}
		switch entry[0] {
		case '{':
			var wt wireTurn
			if err := json.Unmarshal(entry, &wt); err != nil {
				return nil, fmt.Errorf("history[%d]: %w", i, err)
			}
			role, err := ParseRole(wt.Role)
			if err != nil {
				return nil, fmt.Errorf("history[%d]: %w", i, err)
			}
			text := wt.Text
			if text == "" {
				text = wt.Content
			}
			turns = append(turns, Turn{Role: role, Text: text})
		case '[':
			var pair []string
			if err := json.Unmarshal(entry, &pair); err != nil {
				return nil, fmt.Errorf("history[%d]: pairs must hold strings", i)
			}
			if len(pair) == 0 || len(pair) > 2 {
				return nil, fmt.Errorf("history[%d]: expected [question, answer]", i)
			}
			var p [2]string
			copy(p[:], pair)
			turns = append(turns, PairsToTurns([][2]string{p})...)
		default:
			return nil, fmt.Errorf("history[%d]: expected an object or a [question, answer] pair", i)
		}
	}
	return turns, nil
}

func toMessages(history []Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(history))
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return msgs
}

// HistoryBudget bounds how much history is forwarded to the model. Zero
// limits are unlimited.
type HistoryBudget struct {
	MaxTurns  int
	MaxTokens int
	Counter   llm.TokenCounter
}

// Trim returns the newest turns that fit the budget, oldest dropped first.
// The input slice is never modified and the result is never nil.
func (b HistoryBudget) Trim(history []Turn) []Turn {
	start := 0
	if b.MaxTurns > 0 && len(history) > b.MaxTurns {
		start = len(history) - b.MaxTurns
	}

	if b.MaxTokens > 0 {
		counter := b.Counter
		if counter == nil {
			counter = llm.HeuristicCounter{}
		}
		used := 0
		for i := len(history) - 1; i >= start; i-- {
			used += counter.Count(history[i].Text)
			if used > b.MaxTokens {
				start = i + 1
				break
			}
		}
	}

	out := make([]Turn, len(history)-start)
	copy(out, history[start:])
	return out
}
