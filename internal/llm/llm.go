// Package llm adapts hosted chat-completion APIs to the relay's message model.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/voxrelay/internal/config"
	"github.com/ashureev/voxrelay/internal/domain"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Completer produces the next assistant reply for a conversation.
type Completer interface {
	// Complete returns the reply text. Failures are *domain.CompletionError.
	Complete(ctx context.Context, messages []domain.Message) (string, error)
	// Model names the model in use.
	Model() string
	// Provider names the hosted API.
	Provider() string
}

// New constructs the completer selected by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	switch cfg.Provider {
	case config.ProviderGroq, config.ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case config.ProviderGemini:
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// completionError wraps err, flagging deadline expiry.
func completionError(provider string, err error) error {
	return &domain.CompletionError{
		Provider: provider,
		Timeout:  errors.Is(err, context.DeadlineExceeded),
		Cause:    err,
	}
}
