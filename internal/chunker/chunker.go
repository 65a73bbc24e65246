package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ziadkadry99/insightpdf/internal/extract"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200

	// snapWindow is how far a chunk start may move forward to land on a word.
	snapWindow = 10
)

// Chunk is a contiguous slice of one page's text. Sequence numbers chunks
// across the whole document, starting at 0.
type Chunk struct {
	Text       string
	SourcePage int
	Sequence   int
}

// Splitter cuts page text into overlapping, size-bounded chunks. Lengths are
// measured in runes.
type Splitter struct {
	size    int
	overlap int
}

// New creates a Splitter. The overlap must be smaller than half the chunk
// size so every step makes forward progress.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size/2 {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size/2, overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Default returns a Splitter with 1000-character chunks and 200 characters of overlap.
func Default() *Splitter {
	return &Splitter{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
}

// Size returns the maximum chunk length.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap between consecutive chunks.
func (s *Splitter) Overlap() int { return s.overlap }

// Split chunks every page independently, so a chunk never spans two pages.
// Pages with no text after normalization produce no chunks.
func (s *Splitter) Split(pages []extract.Page) []Chunk {
	var chunks []Chunk
	for _, page := range pages {
		text := []rune(Normalize(page.Text))
		for _, piece := range s.splitRunes(text) {
			chunks = append(chunks, Chunk{
				Text:       piece,
				SourcePage: page.Index,
				Sequence:   len(chunks),
			})
		}
	}
	return chunks
}

func (s *Splitter) splitRunes(rs []rune) []string {
	n := len(rs)
	if n == 0 {
		return nil
	}

	var out []string
	start := 0
	for {
		if n-start <= s.size {
			out = append(out, string(rs[start:n]))
			return out
		}

		end := s.breakPoint(rs, start)
		out = append(out, string(rs[start:end]))
		start = snapForward(rs, end-s.overlap, end)
	}
}

// breakPoint picks the end of the chunk starting at start. Candidates are
// searched in the second half of the window only.
func (s *Splitter) breakPoint(rs []rune, start int) int {
	limit := start + s.size
	lo := start + s.size/2

	for i := limit - 1; i >= lo; i-- {
		if rs[i] == '\n' && rs[i+1] == '\n' {
			return i
		}
	}

	for i := limit - 1; i >= lo; i-- {
		if isSentenceEnd(rs[i]) && unicode.IsSpace(rs[i+1]) {
			return i + 1
		}
	}

	for i := limit; i >= lo; i-- {
		if unicode.IsSpace(rs[i]) {
			return i
		}
	}

	return limit
}

// snapForward moves pos just past the first whitespace found within
// snapWindow runes, never reaching end.
func snapForward(rs []rune, pos, end int) int {
	for i := pos; i < pos+snapWindow && i < end-1; i++ {
		if unicode.IsSpace(rs[i]) {
			return i + 1
		}
	}
	return pos
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

var (
	horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	spaceAroundLF   = regexp.MustCompile(` ?\n ?`)
	manyNewlines    = regexp.MustCompile(`\n{3,}`)
)

// Normalize canonicalises extracted page text: CRLF to LF, collapsed
// horizontal whitespace, at most one blank line in a row, trimmed ends.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	text = horizontalSpace.ReplaceAllString(text, " ")
	text = spaceAroundLF.ReplaceAllString(text, "\n")
	text = manyNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
