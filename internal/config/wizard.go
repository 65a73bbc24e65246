package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
)

// chatProviders lists the chat providers offered by the wizard, in menu order.
var chatProviders = []ProviderType{ProviderGroq, ProviderGoogle, ProviderOpenAI, ProviderOpenRouter, ProviderOllama}

// embeddingProviders lists the embedding providers offered by the wizard.
var embeddingProviders = []ProviderType{ProviderGoogle, ProviderOpenAI, ProviderOllama}

// apiKeyEnvVar returns the conventional environment variable holding the
// API key for a provider.
func apiKeyEnvVar(p ProviderType) string {
	switch p {
	case ProviderGroq:
		return "GROQ_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	case ProviderGoogle:
		return "GOOGLE_API_KEY"
	default:
		return ""
	}
}

func providerItems(ps []ProviderType) []string {
	items := make([]string, len(ps))
	for i, p := range ps {
		items[i] = string(p)
	}
	return items
}

// RunWizard runs an interactive configuration wizard, saves the result to
// path and returns it.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to insightpdf! Let's configure the question-answering service.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Chat provider.
	providerPrompt := promptui.Select{
		Label: "Select LLM provider",
		Items: providerItems(chatProviders),
	}
	idx, _, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	provider := chatProviders[idx]
	primary, secondary := DefaultChatModels(provider)

	// 2. Primary and secondary models.
	primaryPrompt := promptui.Prompt{Label: "Primary model", Default: primary}
	if primary, err = primaryPrompt.Run(); err != nil {
		return nil, fmt.Errorf("primary model: %w", err)
	}
	secondaryPrompt := promptui.Prompt{Label: "Secondary model (used when the primary is rate limited)", Default: secondary}
	if secondary, err = secondaryPrompt.Run(); err != nil {
		return nil, fmt.Errorf("secondary model: %w", err)
	}
	cfg.LLM.Primary = ModelConfig{Provider: provider, Model: primary}
	cfg.LLM.Secondary = ModelConfig{Provider: provider, Model: secondary}

	// 3. Embedding provider.
	embedPrompt := promptui.Select{
		Label: "Select embedding provider",
		Items: providerItems(embeddingProviders),
	}
	idx, _, err = embedPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("embedding provider selection: %w", err)
	}
	cfg.Embedding.Provider = embeddingProviders[idx]
	cfg.Embedding.Model = DefaultEmbeddingModel(cfg.Embedding.Provider)

	// 4. Index location.
	backendPrompt := promptui.Select{
		Label: "Select vector index backend",
		Items: []string{string(BackendChromem), string(BackendPgvector)},
	}
	_, backend, err := backendPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("index backend selection: %w", err)
	}
	cfg.Index.Backend = IndexBackend(backend)
	if cfg.Index.Backend == BackendPgvector {
		dsnPrompt := promptui.Prompt{Label: "PostgreSQL connection string"}
		if cfg.Index.PostgresDSN, err = dsnPrompt.Run(); err != nil {
			return nil, fmt.Errorf("postgres dsn: %w", err)
		}
	} else {
		pathPrompt := promptui.Prompt{Label: "Index directory", Default: cfg.Index.Path}
		if cfg.Index.Path, err = pathPrompt.Run(); err != nil {
			return nil, fmt.Errorf("index path: %w", err)
		}
	}

	// 5. Retrieval depth.
	topKPrompt := promptui.Prompt{
		Label:    "Chunks retrieved per question",
		Default:  strconv.Itoa(cfg.Retrieval.TopK),
		Validate: validatePositiveInt,
	}
	topK, err := topKPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("top k: %w", err)
	}
	cfg.Retrieval.TopK, _ = strconv.Atoi(topK)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Check for API keys.
	for _, p := range []ProviderType{provider, cfg.Embedding.Provider} {
		if envVar := apiKeyEnvVar(p); envVar != "" && os.Getenv(envVar) == "" {
			fmt.Printf("\nNote: Set %s in your environment or .env file before running insightpdf serve.\n", envVar)
		}
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive whole number")
	}
	return nil
}
