package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ashureev/voxrelay/internal/config"
	"github.com/ashureev/voxrelay/internal/domain"
)

// OpenAICompleter talks to OpenAI or any compatible endpoint such as Groq.
type OpenAICompleter struct {
	client      *openai.Client
	provider    string
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAI creates a completer for the groq or openai provider.
func NewOpenAI(cfg config.LLMConfig) *OpenAICompleter {
	oc := openai.DefaultConfig(cfg.APIKey)
	switch {
	case cfg.BaseURL != "":
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.Provider == config.ProviderGroq:
		oc.BaseURL = GroqBaseURL
	}

	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(oc),
		provider:    cfg.Provider,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}
}

// Complete sends the full history and returns the first choice's text.
func (c *OpenAICompleter) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", completionError(c.provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", completionError(c.provider, errors.New("response contained no choices"))
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", completionError(c.provider, errors.New("response contained no text"))
	}
	return reply, nil
}

// Model returns the configured model name.
func (c *OpenAICompleter) Model() string { return c.model }

// Provider returns "groq" or "openai".
func (c *OpenAICompleter) Provider() string { return c.provider }
