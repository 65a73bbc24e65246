package config

import "time"

// DefaultConfigFile is the config file read when --config is not given.
const DefaultConfigFile = ".insightpdf.yml"

// DefaultFallbackAnswer is the verbatim reply when the document has no answer.
const DefaultFallbackAnswer = "I cannot find information about that in the uploaded PDF document."

// DefaultAllowedOrigins are the browser origins the HTTP API accepts by default.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Primary:           ModelConfig{Provider: ProviderGroq, Model: "llama-3.3-70b-versatile"},
			Secondary:         ModelConfig{Provider: ProviderGroq, Model: "llama-3.1-8b-instant"},
			Temperature:       0,
			MaxTokens:         1024,
			RequestsPerMinute: 0,
		},
		Embedding: EmbeddingConfig{
			Provider:    ProviderGoogle,
			Model:       "gemini-embedding-001",
			BatchSize:   100,
			Concurrency: 4,
			CacheSize:   256,
			CacheTTL:    time.Hour,
		},
		Index: IndexConfig{
			Backend:    BackendChromem,
			Path:       "./chroma_db",
			Collection: "pdf_chunks",
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Retrieval: RetrievalConfig{
			TopK: 3,
		},
		History: HistoryConfig{
			MaxTurns:  20,
			MaxTokens: 4000,
		},
		Server: ServerConfig{
			Addr:           ":8000",
			AllowedOrigins: append([]string(nil), DefaultAllowedOrigins...),
			MaxUploadMB:    25,
			RequestTimeout: 2 * time.Minute,
		},
		Database: DatabaseConfig{
			Path: "./data/insightpdf.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		FallbackAnswer: DefaultFallbackAnswer,
	}
}

// DefaultEmbeddingModel returns the embedding model used for a provider
// when none is configured.
func DefaultEmbeddingModel(p ProviderType) string {
	switch p {
	case ProviderOpenAI:
		return "text-embedding-3-small"
	case ProviderOllama:
		return "nomic-embed-text"
	default:
		return "gemini-embedding-001"
	}
}

// DefaultChatModels returns the suggested primary and secondary models for a provider.
func DefaultChatModels(p ProviderType) (primary, secondary string) {
	switch p {
	case ProviderOpenAI:
		return "gpt-4o", "gpt-4o-mini"
	case ProviderGoogle:
		return "gemini-2.5-flash", "gemini-2.0-flash"
	case ProviderOpenRouter:
		return "meta-llama/llama-3.3-70b-instruct", "meta-llama/llama-3.1-8b-instruct"
	case ProviderOllama:
		return "llama3.1", "llama3.2"
	default:
		return "llama-3.3-70b-versatile", "llama-3.1-8b-instant"
	}
}
