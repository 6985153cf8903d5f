package agent

import (
	"context"
	"fmt"
)

// NewProvider creates the provider selected by cfg.Provider.
// Supported provider types: "gemini", "openai".
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderGemini, "":
		p, err := NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Provider)
	}
}
