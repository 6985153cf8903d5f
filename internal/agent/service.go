package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/studyrelay/internal/domain"
)

// Service answers study questions through a Provider. It never fails
// outward: transport problems produce a degraded apology result.
type Service struct {
	provider Provider
	timeout  time.Duration
}

// NewService creates a new answer engine. A nil provider makes every call
// return the degraded result.
func NewService(provider Provider, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Service{provider: provider, timeout: timeout}
}

// Ask answers question in language. Every call is stateless.
func (s *Service) Ask(ctx context.Context, question, language string) domain.AnswerResult {
	if s.provider == nil {
		slog.Warn("Answer engine has no provider configured")
		return DegradedAnswer()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	raw, err := s.provider.Generate(ctx, BuildPrompt(question, language))
	if err == nil && strings.TrimSpace(raw) == "" {
		err = errEmptyResponse
	}
	if err != nil {
		slog.Error("Answer engine call failed",
			"provider", s.provider.Name(),
			"duration", time.Since(start),
			"error", err)
		return DegradedAnswer()
	}

	slog.Info("Answer engine call completed",
		"provider", s.provider.Name(),
		"duration", time.Since(start),
		"raw_length", len(raw))
	return ParseAnswer(raw)
}

// ProviderName returns the configured provider name, or "none".
func (s *Service) ProviderName() string {
	if s.provider == nil {
		return "none"
	}
	return s.provider.Name()
}

// Close releases resources.
func (s *Service) Close() {
	if s.provider == nil {
		return
	}
	if err := s.provider.Close(); err != nil {
		slog.Warn("failed to close answer engine provider", "error", err)
	}
}
