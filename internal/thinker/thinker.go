// Package thinker provides the external-model backends that emit
// orchestration directives: a gateway chat session, a Gemini model, a local
// Ollama model, or a fallback chain over any of them.
package thinker

import (
	"context"
	"fmt"
	"sync"

	"clawflow/internal/logging"
)

// Thinker produces raw directive text for an orchestration prompt.
type Thinker interface {
	Think(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function as a Thinker. Used for injected callables and
// in tests.
type Func func(ctx context.Context, prompt string) (string, error)

// Think implements Thinker.
func (f Func) Think(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Fallback chains thinkers and tries each in order on failure.
type Fallback struct {
	thinkers []Thinker
	current  int
	mu       sync.RWMutex
}

// NewFallback creates a fallback chain. At least one thinker is required.
func NewFallback(thinkers ...Thinker) (*Fallback, error) {
	if len(thinkers) == 0 {
		return nil, fmt.Errorf("fallback thinker requires at least one backend")
	}
	return &Fallback{thinkers: thinkers}, nil
}

// Think tries each backend from the current position onward. The position is
// sticky: once a backend fails, later calls start at its successor.
func (f *Fallback) Think(ctx context.Context, prompt string) (string, error) {
	f.mu.RLock()
	start := f.current
	f.mu.RUnlock()

	var lastErr error
	for i := start; i < len(f.thinkers); i++ {
		f.mu.Lock()
		f.current = i
		f.mu.Unlock()

		out, err := f.thinkers[i].Think(ctx, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err

		logging.Warn("thinker backend failed", "index", i, "error", err)
		if ctx.Err() != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("all thinker backends failed, last error: %w", lastErr)
}
