package ai

import (
	"fmt"

	"crm-backend/pkg/gemini"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType

	GeminiAPIKey string
	GeminiModel  string

	OllamaBaseURL string // e.g., "http://localhost:11434"
	OllamaModel   string // e.g., "llama3", "mistral"

	OpenAIBaseURL string // any OpenAI-compatible chat completions endpoint
	OpenAIAPIKey  string
	OpenAIModel   string
}

// NewTextGenerator creates a TextGenerator based on the config.
// Switch AI provider by changing config.Provider.
func NewTextGenerator(cfg Config) (TextGenerator, error) {
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return gemini.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel), nil

	case ProviderOllama:
		return NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel), nil

	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider")
		}
		return NewOpenAIService(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel), nil

	default:
		// Auto: hosted providers first, local Ollama as the fallback
		var primary TextGenerator
		switch {
		case cfg.OpenAIAPIKey != "":
			primary = NewOpenAIService(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
		case cfg.GeminiAPIKey != "":
			primary = gemini.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel)
		}
		ollama := NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel)
		if primary == nil {
			return ollama, nil
		}
		return NewFallbackService(primary, ollama), nil
	}
}
