package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Defaults for the completion provider
const (
	DefaultCompletionModel = "gpt-4o-mini"
	DefaultTemperature     = 0.3
	DefaultMaxTokens       = 256
)

// ErrEmptyCompletion is returned when the provider answers without content
var ErrEmptyCompletion = errors.New("completion returned no content")

// Completer generates text for a prompt. Implementations return errors
// classified with Classify so callers can decide whether to retry.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompletionConfig configures the OpenAI-compatible completion client
type CompletionConfig struct {
	APIKey      string
	BaseURL     string // Optional, for OpenAI-compatible endpoints
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAICompleter implements Completer with the chat completions API
type OpenAICompleter struct {
	client *openai.Client
	cfg    CompletionConfig
}

// NewOpenAICompleter creates a completion client
func NewOpenAICompleter(cfg CompletionConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("completion provider: api key or base url required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultCompletionModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		if !strings.HasSuffix(clientConfig.BaseURL, "/v1") {
			clientConfig.BaseURL += "/v1"
		}
	}

	return &OpenAICompleter{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}, nil
}

// Complete sends a single user message and returns the first choice
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", Classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the configured model name
func (c *OpenAICompleter) Model() string {
	return c.cfg.Model
}
