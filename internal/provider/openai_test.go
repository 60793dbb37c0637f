package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newCompletionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "hello" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		choices := []map[string]any{}
		if content != "" {
			choices = append(choices, map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": content},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": choices,
			"usage":   map[string]int{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProviderReturnsCompletion(t *testing.T) {
	srv := newCompletionServer(t, "  We can help.  ")
	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", SystemPrompt: "be nice"}, nil)

	reply, err := p.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if reply != "We can help." {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestOpenAIProviderEmptyChoices(t *testing.T) {
	srv := newCompletionServer(t, "")
	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", SystemPrompt: "be nice"}, nil)

	if _, err := p.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}
