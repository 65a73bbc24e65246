package llm

import (
	"context"
	"fmt"
	"os"
)

// Supported provider types.
const (
	ProviderGroq       = "groq"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGoogle     = "google"
	ProviderOllama     = "ollama"
)

const defaultOllamaHost = "http://localhost:11434"

// APIKeyEnvVars returns the environment variables consulted for a provider's
// credentials, in lookup order. Ollama needs none.
func APIKeyEnvVars(providerType string) []string {
	switch providerType {
	case ProviderGroq:
		return []string{"GROQ_API_KEY"}
	case ProviderOpenAI:
		return []string{"OPENAI_API_KEY"}
	case ProviderOpenRouter:
		return []string{"OPENROUTER_API_KEY"}
	case ProviderGoogle:
		return []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"}
	default:
		return nil
	}
}

// LookupAPIKey returns the first non-empty credential for providerType.
func LookupAPIKey(providerType string) (string, error) {
	vars := APIKeyEnvVars(providerType)
	for _, name := range vars {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	if len(vars) == 0 {
		return "", nil
	}
	return "", fmt.Errorf("%s environment variable is not set", vars[0])
}

// NewProvider creates a new LLM provider based on the given provider type and model.
// Supported provider types: "groq", "openai", "openrouter", "google", "ollama".
func NewProvider(ctx context.Context, providerType string, model string) (Provider, error) {
	switch providerType {
	case ProviderGroq, ProviderOpenAI, ProviderOpenRouter, ProviderGoogle:
	case ProviderOllama:
		host := os.Getenv("OLLAMA_HOST")
		if host == "" {
			host = defaultOllamaHost
		}
		return NewOllamaProvider(host, model), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}

	apiKey, err := LookupAPIKey(providerType)
	if err != nil {
		return nil, err
	}

	switch providerType {
	case ProviderGroq:
		return NewOpenAICompatibleProvider(ProviderGroq, apiKey, GroqBaseURL, model), nil
	case ProviderOpenRouter:
		return NewOpenAICompatibleProvider(ProviderOpenRouter, apiKey, OpenRouterBaseURL, model), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey, model), nil
	default:
		p, err := NewGoogleProvider(ctx, apiKey, model)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
