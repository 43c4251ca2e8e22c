package thinker

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiConfig holds configuration for the Gemini thinker backend.
type GeminiConfig struct {
	APIKey      string
	Model       string  // e.g. "gemini-2.5-flash"
	Temperature float32 // Default 0.2: directives should be stable JSON
}

// Gemini emits directives from a Gemini model via the genai SDK.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGemini creates a Gemini-backed thinker.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	temp := cfg.Temperature
	return &Gemini{
		client: client,
		model:  cfg.Model,
		config: &genai.GenerateContentConfig{
			Temperature:      &temp,
			ResponseMIMEType: "application/json",
		},
	}, nil
}

// Think runs one non-streaming generation and returns the full text.
func (g *Gemini) Think(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.config)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := ""
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			text += part.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("gemini returned no text")
	}
	return text, nil
}
