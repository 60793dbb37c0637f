package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

var errEmptyCompletion = errors.New("completion returned no content")

// OpenAIConfig configures OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// OpenAIProvider answers with a single chat completion.
type OpenAIProvider struct {
	client       *openai.Client
	model        string
	systemPrompt string
	logger       *slog.Logger
}

// NewOpenAI creates an OpenAI-backed provider.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        model,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger.With("component", "provider", "provider", "openai"),
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return "openai" }

// Send asks the model for a reply to message.
func (p *OpenAIProvider) Send(ctx context.Context, message string) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if p.systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.systemPrompt,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", errEmptyCompletion
	}

	p.logger.Debug("completion received",
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return reply, nil
}
