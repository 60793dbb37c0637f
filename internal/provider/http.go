package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxErrorBody caps how much of a failed response body is kept for logging.
const maxErrorBody = 512

var errMissingTitle = errors.New("response has no title")

// HTTPConfig configures HTTPProvider.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration // 0 disables the client timeout
	// ReplyTemplate turns the echoed title into the text shown to the visitor.
	// Nil shows the title as is.
	ReplyTemplate func(title string) string
	Client        *http.Client
}

// HTTPProvider posts {"title": message} as JSON and answers with the title the
// endpoint echoes back.
type HTTPProvider struct {
	url      string
	client   *http.Client
	template func(string) string
	logger   *slog.Logger
}

type titlePayload struct {
	Title *string `json:"title"`
}

// NewHTTP creates a JSON-over-HTTP provider.
func NewHTTP(cfg HTTPConfig, logger *slog.Logger) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPProvider{
		url:      cfg.URL,
		client:   client,
		template: cfg.ReplyTemplate,
		logger:   logger.With("component", "provider", "provider", "http"),
	}
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string { return "http" }

// Send posts message and returns the rendered reply.
func (p *HTTPProvider) Send(ctx context.Context, message string) (string, error) {
	body, err := json.Marshal(map[string]string{"title": message})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("provider returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}

	var payload titlePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if payload.Title == nil {
		return "", errMissingTitle
	}

	p.logger.Debug("provider replied", "status", resp.StatusCode, "title_length", len(*payload.Title))

	if p.template == nil {
		return *payload.Title, nil
	}
	return p.template(*payload.Title), nil
}
