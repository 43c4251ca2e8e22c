package thinker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaConfig holds configuration for the local-model thinker backend.
type OllamaConfig struct {
	BaseURL     string // Default "http://localhost:11434"
	Model       string // e.g. "llama3.2", "qwen2.5-coder"
	HTTPTimeout time.Duration
}

// Ollama emits directives from a locally hosted model.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama creates an Ollama-backed thinker.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 120 * time.Second
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL: %w", err)
	}

	return &Ollama{
		client: api.NewClient(baseURL, &http.Client{Timeout: cfg.HTTPTimeout}),
		model:  cfg.Model,
	}, nil
}

// Think runs one chat completion and returns the accumulated content.
func (o *Ollama) Think(ctx context.Context, prompt string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:  o.model,
		Stream: &stream,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
	}

	var out strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("ollama returned no text")
	}
	return out.String(), nil
}
