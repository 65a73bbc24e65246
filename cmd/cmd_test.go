package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/insightpdf/internal/chunker"
	"github.com/ziadkadry99/insightpdf/internal/config"
	"github.com/ziadkadry99/insightpdf/internal/embeddings"
	"github.com/ziadkadry99/insightpdf/internal/llm"
	"github.com/ziadkadry99/insightpdf/internal/rag"
	"github.com/ziadkadry99/insightpdf/internal/vectordb"
)

type stubAnswerer struct {
	histories [][]rag.Turn
	err       error
}

func (s *stubAnswerer) Answer(_ context.Context, question string, history []rag.Turn) (*rag.Answer, error) {
	s.histories = append(s.histories, history)
	if s.err != nil {
		return nil, s.err
	}
	return &rag.Answer{Text: "answer to " + question, SourcePages: []int{2}}, nil
}

func TestChatSessionKeepsHistory(t *testing.T) {
	stub := &stubAnswerer{}
	session := &chatSession{engine: stub}
	ctx := context.Background()

	_, err := session.ask(ctx, "What is it?")
	require.NoError(t, err)
	_, err = session.ask(ctx, "How much does it cost?")
	require.NoError(t, err)

	require.Len(t, stub.histories, 2)
	assert.Empty(t, stub.histories[0])
	assert.Equal(t, []rag.Turn{
		{Role: rag.RoleHuman, Text: "What is it?"},
		{Role: rag.RoleAssistant, Text: "answer to What is it?"},
	}, stub.histories[1])
	assert.Len(t, session.history, 4)

	session.reset()
	assert.Empty(t, session.history)
}

func TestChatSessionSkipsFailedTurns(t *testing.T) {
	stub := &stubAnswerer{err: errors.New("provider down")}
	session := &chatSession{engine: stub}

	_, err := session.ask(context.Background(), "anything")
	require.Error(t, err)
	assert.Empty(t, session.history)
}

func TestPrintAnswer(t *testing.T) {
	ans := &rag.Answer{
		Text:        "Two years.",
		SourcePages: []int{3, 5},
		Context: []vectordb.SearchResult{
			{Chunk: chunker.Chunk{Text: "Warranty: two years.", SourcePage: 2, Sequence: 4}, Similarity: 0.8},
		},
	}

	var buf bytes.Buffer
	printAnswer(&buf, ans, false)
	assert.Contains(t, buf.String(), "Two years.")
	assert.Contains(t, buf.String(), "Source pages: 3, 5")
	assert.NotContains(t, buf.String(), "Warranty")

	buf.Reset()
	printAnswer(&buf, ans, true)
	assert.Contains(t, buf.String(), "Page: 3  Chunk: 4")

	buf.Reset()
	printAnswer(&buf, &rag.Answer{Text: config.DefaultFallbackAnswer}, true)
	assert.Equal(t, config.DefaultFallbackAnswer+"\n", buf.String())
}

func TestLazyProviderDefersConstruction(t *testing.T) {
	p := newLazyProvider(config.ModelConfig{Provider: "bogus", Model: "m"}, 0)
	assert.Equal(t, "bogus", p.Name())
	assert.Equal(t, "m", llm.Model(p))

	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	var providerErr *llm.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Contains(t, err.Error(), "unsupported provider type")
}

func TestEngineOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Retrieval.TopK = 5
	cfg.Retrieval.MinSimilarity = 0.3
	cfg.LLM.Temperature = 0.2
	cfg.LLM.MaxTokens = 512
	cfg.Embedding.BatchSize = 16
	cfg.Embedding.Concurrency = 2
	cfg.History.MaxTurns = 6

	opts := engineOptions(cfg)
	assert.Equal(t, 5, opts.TopK)
	assert.Equal(t, float32(0.3), opts.MinSimilarity)
	assert.Equal(t, cfg.FallbackAnswer, opts.Fallback)
	assert.Equal(t, rag.Generation{Temperature: 0.2, MaxTokens: 512}, opts.Generation)
	assert.Equal(t, 16, opts.Batch.BatchSize)
	assert.Equal(t, 2, opts.Batch.Concurrency)
	assert.Equal(t, 6, opts.History.MaxTurns)
	assert.NotNil(t, opts.History.Counter)
}

func TestSecondaryFactory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Secondary = config.ModelConfig{}
	assert.Nil(t, secondaryFactory(cfg))

	cfg.LLM.Secondary = config.ModelConfig{Provider: config.ProviderOllama, Model: "llama3"}
	factory := secondaryFactory(cfg)
	require.NotNil(t, factory)
	p, err := factory()
	require.NoError(t, err)
	assert.Equal(t, "llama3", llm.Model(p))
}

func TestCreateEmbedderFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Embedding.Provider = config.ProviderOllama
	cfg.Embedding.Model = "nomic-embed-text"
	cfg.Embedding.Dimensions = 0
	cfg.Embedding.CacheSize = 0

	e, err := createEmbedderFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &embeddings.OllamaEmbedder{}, e)
	assert.Equal(t, defaultOllamaDimensions, e.Dimensions())

	cfg.Embedding.CacheSize = 10
	cfg.Embedding.CacheTTL = time.Minute
	e, err = createEmbedderFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &embeddings.CachedEmbedder{}, e)

	cfg.Embedding.Provider = config.ProviderGroq
	_, err = createEmbedderFromConfig(context.Background(), cfg)
	assert.Error(t, err)
}

func TestCreateIndexFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Index.Backend = config.BackendChromem
	cfg.Index.Path = filepath.Join(t.TempDir(), "index")

	idx, err := createIndexFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer idx.Close()

	n, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	cfg.Index.Backend = "faiss"
	_, err = createIndexFromConfig(context.Background(), cfg)
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, loadEnvFile(filepath.Join(dir, "missing.env")))
	require.NoError(t, loadEnvFile(""))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("INSIGHTPDF_TEST_KEY=from-file\n"), 0644))
	t.Setenv("INSIGHTPDF_TEST_KEY", "")
	os.Unsetenv("INSIGHTPDF_TEST_KEY")

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("INSIGHTPDF_TEST_KEY"))
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version", "--env-file", ""})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(buf.String(), "insightpdf "))
}
