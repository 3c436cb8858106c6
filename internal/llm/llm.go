// Package llm provides text generation backends for the chat surfaces.
//
// A Generator turns one prompt into one completion. Providers are chosen
// from configuration at startup: "gemini" goes through the genai SDK,
// "openai" and "anthropic" go through langchaingo.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
)

var (
	// ErrUnknownProvider is returned for a provider name New does not know.
	ErrUnknownProvider = errors.New("unknown llm provider")

	// ErrEmptyPrompt is returned when Generate is called with a blank prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("empty response from model")
)

// Generator produces a completion for a single prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second

	// 50 requests per minute with a small burst.
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5

	defaultTemperature = 0.7
)

// New builds the Generator named by cfg.Provider.
func New(ctx context.Context, cfg config.ChatConfig, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	var (
		gen Generator
		err error
	)
	switch provider {
	case "gemini", "":
		gen, err = NewGemini(ctx, GeminiConfig{
			APIKey:      cfg.APIKey.Value(),
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout.Duration(),
		})
	case "openai":
		gen, err = NewOpenAI(cfg)
	case "anthropic":
		gen, err = NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("llm generator initialized",
		zap.String("provider", provider),
		zap.String("model", cfg.Model),
	)
	return gen, nil
}

// retryableError marks a failure worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// backoffFor returns the wait before the given attempt (attempt >= 1).
func backoffFor(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<(attempt-1))
}
