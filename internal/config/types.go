package config

import "time"

// ProviderType identifies an LLM or embedding provider.
type ProviderType string

const (
	ProviderGroq       ProviderType = "groq"
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderGoogle     ProviderType = "google"
	ProviderOllama     ProviderType = "ollama"
)

// IndexBackend selects the vector index implementation.
type IndexBackend string

const (
	BackendChromem  IndexBackend = "chromem"
	BackendPgvector IndexBackend = "pgvector"
)

// Config is the top-level insightpdf configuration, corresponding to .insightpdf.yml.
type Config struct {
	LLM            LLMConfig       `yaml:"llm" koanf:"llm"`
	Embedding      EmbeddingConfig `yaml:"embedding" koanf:"embedding"`
	Index          IndexConfig     `yaml:"index" koanf:"index"`
	Chunking       ChunkingConfig  `yaml:"chunking" koanf:"chunking"`
	Retrieval      RetrievalConfig `yaml:"retrieval" koanf:"retrieval"`
	History        HistoryConfig   `yaml:"history" koanf:"history"`
	Server         ServerConfig    `yaml:"server" koanf:"server"`
	Database       DatabaseConfig  `yaml:"database" koanf:"database"`
	Log            LogConfig       `yaml:"log" koanf:"log"`
	FallbackAnswer string          `yaml:"fallback_answer" koanf:"fallback_answer" validate:"required"`
}

// ModelConfig names one chat model.
type ModelConfig struct {
	Provider ProviderType `yaml:"provider" koanf:"provider" validate:"required,oneof=groq openai openrouter google ollama"`
	Model    string       `yaml:"model" koanf:"model" validate:"required"`
}

// LLMConfig holds the primary and secondary chat models and generation settings.
type LLMConfig struct {
	Primary           ModelConfig `yaml:"primary" koanf:"primary"`
	Secondary         ModelConfig `yaml:"secondary" koanf:"secondary"`
	Temperature       float64     `yaml:"temperature" koanf:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int         `yaml:"max_tokens" koanf:"max_tokens" validate:"gte=1"`
	RequestsPerMinute int         `yaml:"requests_per_minute" koanf:"requests_per_minute" validate:"gte=0"`
}

// EmbeddingConfig selects the embedding model and how ingestion batches it.
type EmbeddingConfig struct {
	Provider    ProviderType  `yaml:"provider" koanf:"provider" validate:"required,oneof=google openai ollama"`
	Model       string        `yaml:"model" koanf:"model" validate:"required"`
	Dimensions  int           `yaml:"dimensions" koanf:"dimensions" validate:"gte=0"`
	BatchSize   int           `yaml:"batch_size" koanf:"batch_size" validate:"gte=1"`
	Concurrency int           `yaml:"concurrency" koanf:"concurrency" validate:"gte=1"`
	CacheSize   int           `yaml:"cache_size" koanf:"cache_size" validate:"gte=0"`
	CacheTTL    time.Duration `yaml:"cache_ttl" koanf:"cache_ttl" validate:"gte=0"`
}

// IndexConfig selects and locates the vector index.
type IndexConfig struct {
	Backend     IndexBackend `yaml:"backend" koanf:"backend" validate:"required,oneof=chromem pgvector"`
	Path        string       `yaml:"path" koanf:"path" validate:"required_if=Backend chromem"`
	Collection  string       `yaml:"collection" koanf:"collection" validate:"required"`
	PostgresDSN string       `yaml:"postgres_dsn" koanf:"postgres_dsn" validate:"required_if=Backend pgvector"`
}

// ChunkingConfig controls how page text is split.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" koanf:"chunk_size" validate:"gt=0"`
	ChunkOverlap int `yaml:"chunk_overlap" koanf:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
}

// RetrievalConfig controls the similarity search.
type RetrievalConfig struct {
	TopK          int     `yaml:"top_k" koanf:"top_k" validate:"gte=1"`
	MinSimilarity float32 `yaml:"min_similarity" koanf:"min_similarity" validate:"gte=0,lte=1"`
}

// HistoryConfig bounds the conversation history sent to the model.
// Zero disables the corresponding limit.
type HistoryConfig struct {
	MaxTurns  int `yaml:"max_turns" koanf:"max_turns" validate:"gte=0"`
	MaxTokens int `yaml:"max_tokens" koanf:"max_tokens" validate:"gte=0"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr" koanf:"addr" validate:"required"`
	AllowedOrigins []string      `yaml:"allowed_origins" koanf:"allowed_origins"`
	MaxUploadMB    int           `yaml:"max_upload_mb" koanf:"max_upload_mb" validate:"gt=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" koanf:"request_timeout" validate:"gte=0"`
}

// DatabaseConfig locates the SQLite database holding ingestion records.
type DatabaseConfig struct {
	Path string `yaml:"path" koanf:"path" validate:"required"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" koanf:"format" validate:"oneof=console json"`
}
