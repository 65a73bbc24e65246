package vectordb

import (
	"fmt"
	"strings"
)

// FormatResults renders search results as human-readable text. Page
// numbers are shown 1-indexed.
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return "No results found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d result(s):\n\n", len(results)))

	for i, r := range results {
		sb.WriteString(fmt.Sprintf("--- Result %d (similarity: %.4f) ---\n", i+1, r.Similarity))
		sb.WriteString(fmt.Sprintf("Page: %d  Chunk: %d\n\n", r.Chunk.SourcePage+1, r.Chunk.Sequence))
		sb.WriteString(r.Chunk.Text)
		sb.WriteString("\n\n")
	}

	return sb.String()
}
