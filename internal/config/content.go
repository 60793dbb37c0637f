package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Content is the copy shown by the widget.
type Content struct {
	Title         string   `yaml:"title"`
	Greeting      string   `yaml:"greeting"`
	Placeholder   string   `yaml:"placeholder"`
	PromptLabel   string   `yaml:"prompt_label"`
	Suggestions   []string `yaml:"suggestions"`
	ReplyTemplate string   `yaml:"reply_template"` // {reply} is replaced by the provider's echo
	SystemPrompt  string   `yaml:"system_prompt"`
}

// DefaultContent returns the stock widget copy.
func DefaultContent() Content {
	return Content{
		Title:       "Your Helping Hand",
		Greeting:    "Hello! How can I help you today?",
		Placeholder: "Type your message...",
		PromptLabel: "Or choose a prompt:",
		Suggestions: []string{
			"How can I borrow funds?",
			"Do I need collateral for loan?",
			"abcd",
			"What are the interest rates?",
			"How can I increase my credit limit?",
		},
		ReplyTemplate: `Thanks for your message! You said: "{reply}". We will help you shortly.`,
		SystemPrompt:  "You are Your Helping Hand, a concise and friendly support assistant for a lending website.",
	}
}

// LoadContent reads widget copy from a YAML file. Fields left out of the file
// keep their defaults. Environment variables in ${VAR} form are expanded.
func LoadContent(path string) (Content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Content{}, fmt.Errorf("reading content file: %w", err)
	}

	content := DefaultContent()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &content); err != nil {
		return Content{}, fmt.Errorf("parsing content file: %w", err)
	}
	return content, nil
}

// Validate checks the widget copy.
func (c Content) Validate() error {
	if strings.TrimSpace(c.Greeting) == "" {
		return fmt.Errorf("content greeting cannot be empty")
	}
	for i, s := range c.Suggestions {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("content suggestion %d is empty", i)
		}
	}
	return nil
}

// RenderReply fills the reply template.
func (c Content) RenderReply(echo string) string {
	if c.ReplyTemplate == "" {
		return echo
	}
	return strings.ReplaceAll(c.ReplyTemplate, "{reply}", echo)
}
