// Package agent talks to the text generation backends that drive the mentor flow.
package agent

import (
	"context"
	"errors"
	"time"
)

// Provider names accepted by GENERATION_PROVIDER.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("generator returned an empty response")

// Generator turns a prompt into raw response text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config holds generation service configuration.
type Config struct {
	Provider       string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// DefaultConfig returns default generation configuration.
func DefaultConfig() Config {
	return Config{
		Provider:       ProviderGemini,
		Timeout:        60 * time.Second,
		RetryBaseDelay: time.Second,
	}
}
