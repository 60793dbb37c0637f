// Package provider implements the response providers that answer widget
// messages.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/helping-hand/internal/config"
)

// Provider produces a bot reply for a user message. Any error means the send
// failed; callers do not distinguish error kinds.
type Provider interface {
	Send(ctx context.Context, message string) (string, error)
	Name() string
}

// FromConfig builds the provider selected by cfg.
func FromConfig(cfg *config.Config, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider.Kind {
	case config.ProviderHTTP:
		return NewHTTP(HTTPConfig{
			URL:           cfg.Provider.URL,
			Timeout:       cfg.Provider.Timeout,
			ReplyTemplate: cfg.Content.RenderReply,
		}, logger), nil
	case config.ProviderOpenAI:
		return NewOpenAI(OpenAIConfig{
			APIKey:       cfg.Provider.OpenAIAPIKey,
			BaseURL:      cfg.Provider.OpenAIBaseURL,
			Model:        cfg.Provider.OpenAIModel,
			SystemPrompt: cfg.Content.SystemPrompt,
			Timeout:      cfg.Provider.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Kind)
	}
}
