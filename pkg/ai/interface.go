package ai

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// TextGenerator is the interface for prompt-in, text-out model providers.
// Implement this interface to add new AI providers.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	// Model identifies the provider/model pair that produced an answer.
	Model() string
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderOpenAI ProviderType = "openai"
	ProviderAuto   ProviderType = "auto"
)
