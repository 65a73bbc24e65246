package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE used to budget conversation history. It is an
// approximation for non-OpenAI models.
const DefaultEncoding = "cl100k_base"

// TokenCounter counts the tokens a text occupies in a prompt.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter estimates tokens without a tokenizer.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int { return EstimateTokens(text) }

// offlineLoader makes tiktoken read the BPE ranks embedded in the binary
// instead of downloading them.
var offlineLoader sync.Once

// TiktokenCounter counts tokens with tiktoken. The BPE ranks are embedded,
// so loading never touches the network; if the encoding still cannot be
// loaded the counter falls back to EstimateTokens.
type TiktokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	err      error
}

// NewTiktokenCounter returns a counter for the named encoding.
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	offlineLoader.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	return &TiktokenCounter{encoding: encoding}
}

// Load parses the encoding. Count calls it on first use; calling it at
// startup keeps that cost off the first request.
func (c *TiktokenCounter) Load() error {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(c.encoding)
	})
	return c.err
}

func (c *TiktokenCounter) Count(text string) int {
	if c.Load() != nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokens provides a rough token count estimation for the given text.
// Uses the approximation of 1 token per 4 characters.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		return 1
	}
	return n
}
