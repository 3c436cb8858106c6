package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
)

// LangChain adapts a langchaingo model to Generator.
type LangChain struct {
	model       llms.Model
	temperature float64
}

// NewLangChain wraps an already constructed langchaingo model.
func NewLangChain(model llms.Model, temperature float64) *LangChain {
	if temperature == 0 {
		temperature = defaultTemperature
	}
	return &LangChain{model: model, temperature: temperature}
}

// Model returns the wrapped langchaingo model.
func (l *LangChain) Model() llms.Model {
	return l.model
}

// NewOpenAI builds an OpenAI (or OpenAI-compatible) chat generator.
func NewOpenAI(cfg config.ChatConfig) (*LangChain, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("openai API key required")
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return NewLangChain(model, cfg.Temperature), nil
}

// NewAnthropic builds an Anthropic chat generator.
func NewAnthropic(cfg config.ChatConfig) (*LangChain, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("anthropic API key required")
	}
	opts := []anthropic.Option{
		anthropic.WithToken(cfg.APIKey.Value()),
	}
	if cfg.Model != "" {
		opts = append(opts, anthropic.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	model, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating anthropic client: %w", err)
	}
	return NewLangChain(model, cfg.Temperature), nil
}

// Generate runs prompt as a single human message.
func (l *LangChain) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	resp, err := l.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(l.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}
