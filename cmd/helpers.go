package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ziadkadry99/insightpdf/internal/chunker"
	"github.com/ziadkadry99/insightpdf/internal/config"
	"github.com/ziadkadry99/insightpdf/internal/db"
	"github.com/ziadkadry99/insightpdf/internal/embeddings"
	"github.com/ziadkadry99/insightpdf/internal/extract"
	"github.com/ziadkadry99/insightpdf/internal/llm"
	"github.com/ziadkadry99/insightpdf/internal/logging"
	"github.com/ziadkadry99/insightpdf/internal/rag"
	"github.com/ziadkadry99/insightpdf/internal/vectordb"
)

const defaultOllamaDimensions = 768

// app holds everything a command needs to talk to the engine.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	engine     *rag.Engine
	index      vectordb.Index
	database   *db.DB
	ingestions *db.IngestionStore
}

func (a *app) Close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing index")
		}
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing database")
		}
	}
}

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `insightpdf init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return logging.New(level, cfg.Log.Format, os.Stderr)
}

// newApp builds the engine from config. With eager set, the primary chat
// provider is constructed up front so missing credentials fail the command
// immediately; otherwise it is built on first use, which lets commands that
// never call the model run without a chat API key.
func newApp(ctx context.Context, eager bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	embedder, err := createEmbedderFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	a.index, err = createIndexFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	a.database, err = db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.ingestions = db.NewIngestionStore(a.database)

	splitter, err := chunker.New(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	var primary llm.Provider = newLazyProvider(cfg.LLM.Primary, cfg.LLM.RequestsPerMinute)
	if eager {
		primary, err = createLLMProviderFromConfig(ctx, cfg.LLM.Primary, cfg.LLM.RequestsPerMinute)
		if err != nil {
			return nil, fmt.Errorf("creating primary provider: %w", err)
		}
	}

	opts := engineOptions(cfg)
	if tc, ok := opts.History.Counter.(*llm.TiktokenCounter); ok {
		if err := tc.Load(); err != nil {
			logger.Warn().Err(err).Msg("tokenizer unavailable, estimating history tokens")
		}
	}

	a.engine, err = rag.NewEngine(rag.Config{
		Extractor: extract.NewPDFExtractor(),
		Splitter:  splitter,
		Embedder:  embedder,
		Index:     a.index,
		Primary:   primary,
		Secondary: secondaryFactory(cfg),
		Recorder:  a.ingestions,
		Logger:    logger,
		Options:   opts,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func engineOptions(cfg *config.Config) rag.Options {
	return rag.Options{
		TopK:          cfg.Retrieval.TopK,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
		Fallback:      cfg.FallbackAnswer,
		Generation: rag.Generation{
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
		Batch: embeddings.BatchOptions{
			BatchSize:   cfg.Embedding.BatchSize,
			Concurrency: cfg.Embedding.Concurrency,
		},
		History: rag.HistoryBudget{
			MaxTurns:  cfg.History.MaxTurns,
			MaxTokens: cfg.History.MaxTokens,
			Counter:   llm.NewTiktokenCounter(llm.DefaultEncoding),
		},
	}
}

// secondaryFactory returns nil when no secondary model is configured.
func secondaryFactory(cfg *config.Config) rag.ProviderFactory {
	sec := cfg.LLM.Secondary
	if sec.Provider == "" || sec.Model == "" {
		return nil
	}
	return func() (llm.Provider, error) {
		return createLLMProviderFromConfig(context.Background(), sec, cfg.LLM.RequestsPerMinute)
	}
}

// createEmbedderFromConfig creates an embeddings.Embedder based on config,
// wrapped in the query cache when one is configured.
func createEmbedderFromConfig(ctx context.Context, cfg *config.Config) (embeddings.Embedder, error) {
	ec := cfg.Embedding
	model := ec.Model
	if model == "" {
		model = config.DefaultEmbeddingModel(ec.Provider)
	}

	var embedder embeddings.Embedder
	switch ec.Provider {
	case config.ProviderGoogle:
		apiKey, err := llm.LookupAPIKey(llm.ProviderGoogle)
		if err != nil {
			return nil, fmt.Errorf("google embeddings: %w", err)
		}
		g, err := embeddings.NewGoogleEmbedder(ctx, apiKey, model, ec.Dimensions)
		if err != nil {
			return nil, err
		}
		embedder = g
	case config.ProviderOpenAI:
		apiKey, err := llm.LookupAPIKey(llm.ProviderOpenAI)
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: %w", err)
		}
		embedder = embeddings.NewOpenAIEmbedder(apiKey, "", embeddings.OpenAIModel(model))
	case config.ProviderOllama:
		dims := ec.Dimensions
		if dims == 0 {
			dims = defaultOllamaDimensions
		}
		embedder = embeddings.NewOllamaEmbedder(model, dims, os.Getenv("OLLAMA_HOST"))
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ec.Provider)
	}

	if ec.CacheSize > 0 {
		embedder = embeddings.NewCachedEmbedder(embedder, ec.CacheSize, ec.CacheTTL)
	}
	return embedder, nil
}

func createIndexFromConfig(ctx context.Context, cfg *config.Config) (vectordb.Index, error) {
	switch cfg.Index.Backend {
	case config.BackendPgvector:
		idx, err := vectordb.NewPgvectorIndex(ctx, cfg.Index.PostgresDSN, cfg.Index.Collection)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case config.BackendChromem:
		idx, err := vectordb.NewChromemIndex(cfg.Index.Path, cfg.Index.Collection)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", cfg.Index.Backend)
	}
}

// createLLMProviderFromConfig creates a chat provider, rate limited when rpm > 0.
func createLLMProviderFromConfig(ctx context.Context, mc config.ModelConfig, rpm int) (llm.Provider, error) {
	p, err := llm.NewProvider(ctx, string(mc.Provider), mc.Model)
	if err != nil {
		return nil, err
	}
	if rpm > 0 {
		p = llm.NewRateLimitedProvider(p, rpm)
	}
	return p, nil
}

// lazyProvider defers building a chat provider until the first completion.
type lazyProvider struct {
	mc  config.ModelConfig
	rpm int

	once sync.Once
	p    llm.Provider
	err  error
}

func newLazyProvider(mc config.ModelConfig, rpm int) *lazyProvider {
	return &lazyProvider{mc: mc, rpm: rpm}
}

func (l *lazyProvider) Name() string { return string(l.mc.Provider) }

func (l *lazyProvider) Model() string { return l.mc.Model }

func (l *lazyProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	l.once.Do(func() {
		l.p, l.err = createLLMProviderFromConfig(ctx, l.mc, l.rpm)
	})
	if l.err != nil {
		return nil, &llm.ProviderError{Provider: l.Name(), Err: l.err}
	}
	return l.p.Complete(ctx, req)
}

// requireDocument fails when nothing has been ingested yet.
func requireDocument(ctx context.Context, engine *rag.Engine) error {
	st, err := engine.Status(ctx)
	if err != nil {
		return err
	}
	if st.State == rag.StateEmpty {
		return errors.New("no document is indexed; run `insightpdf ingest <file.pdf>` first")
	}
	return nil
}
