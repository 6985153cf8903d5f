// Package agent implements the answer engine that turns study questions into
// structured answers using a generative model.
package agent

import (
	"context"
	"errors"
	"time"
)

// Provider names accepted by NewProvider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

var (
	errEmptyResponse = errors.New("model returned an empty response")
	errMissingAPIKey = errors.New("api key is not set")
)

// Provider generates raw text for a single prompt. Implementations hold no
// conversation memory between calls.
type Provider interface {
	// Generate sends prompt to the model and returns its raw text output.
	Generate(ctx context.Context, prompt string) (string, error)
	// Name returns the name of this provider.
	Name() string
	// Close releases provider resources.
	Close() error
}

// Config holds answer engine configuration.
type Config struct {
	Provider      string
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	Timeout       time.Duration
}

// DefaultConfig returns default answer engine configuration.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderGemini,
		GeminiModel: "gemini-2.0-flash",
		OpenAIModel: "gpt-4o-mini",
		Timeout:     60 * time.Second,
	}
}

// answerPayload is the JSON object the model is asked to produce.
type answerPayload struct {
	ShortAnswer      string           `json:"short_answer"`
	DetailedAnswer   string           `json:"detailed_answer"`
	Mermaid          string           `json:"mermaid"`
	VideoSuggestions videoSuggestions `json:"video_suggestions"`
}
