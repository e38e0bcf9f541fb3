// Package chat answers user queries with a chat model, using retrieved
// chunks or PubMed abstracts as context.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

// Role is a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ErrCompletionFailed wraps chat model failures.
var ErrCompletionFailed = errors.New("chat completion failed")

// Completer turns messages into the model's reply. With jsonMode the reply
// is a JSON object.
type Completer interface {
	Complete(ctx context.Context, messages []Message, jsonMode bool) (string, error)
}

// LLMClient is a Completer over a langchaingo model.
type LLMClient struct {
	model       llms.Model
	temperature float64
	timeout     time.Duration
}

// NewOpenAIClient builds an LLMClient for an OpenAI compatible endpoint.
func NewOpenAIClient(cfg config.LLMConfig) (*LLMClient, error) {
	if cfg.APIKey.Value() == "" {
		return nil, errors.New("openai API key required")
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI chat client: %w", err)
	}
	return NewLLMClient(model, cfg.Temperature, cfg.Timeout.Duration()), nil
}

// NewLLMClient wraps any langchaingo model.
func NewLLMClient(model llms.Model, temperature float64, timeout time.Duration) *LLMClient {
	return &LLMClient{model: model, temperature: temperature, timeout: timeout}
}

// Complete sends messages and returns the first choice.
func (c *LLMClient) Complete(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(messageType(m.Role), m.Content))
	}
	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if jsonMode {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := c.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrCompletionFailed)
	}
	return resp.Choices[0].Content, nil
}

func messageType(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
