package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	Timeout     time.Duration

	// MaxRetries and BaseBackoff default to 3 and 1s.
	MaxRetries  int
	BaseBackoff time.Duration

	// Limiter overrides the default 50 req/min limiter.
	Limiter *rate.Limiter
}

// Gemini generates replies through the Gemini API using the genai SDK.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float64
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

// NewGemini creates a Gemini generator. An API key is required.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	g := &Gemini{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		limiter:     cfg.Limiter,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
	}
	if g.model == "" {
		g.model = defaultGeminiModel
	}
	if g.temperature == 0 {
		g.temperature = defaultTemperature
	}
	if g.limiter == nil {
		g.limiter = rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst)
	}
	if g.maxRetries <= 0 {
		g.maxRetries = defaultMaxRetries
	}
	if g.baseBackoff <= 0 {
		g.baseBackoff = defaultBaseBackoff
	}
	return g, nil
}

// Generate sends prompt as a single user turn and returns the text of the
// first candidate.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	contents := genai.Text(prompt)
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.temperature)),
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffFor(g.baseBackoff, attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := g.generateOnce(ctx, contents, genCfg)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (g *Gemini) generateOnce(ctx context.Context, contents []*genai.Content, genCfg *genai.GenerateContentConfig) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genCfg)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifyGeminiError(err)
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// classifyGeminiError marks 429 and 5xx responses as retryable. Errors that
// carry no API status are transport failures and are retried as well.
func classifyGeminiError(err error) error {
	code, ok := geminiStatus(err)
	switch {
	case !ok:
		return &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	case code == http.StatusTooManyRequests:
		return &retryableError{err: fmt.Errorf("rate limited (429): %w", err)}
	case code >= 500:
		return &retryableError{err: fmt.Errorf("server error (%d): %w", code, err)}
	default:
		return fmt.Errorf("API error (%d): %w", code, err)
	}
}

func geminiStatus(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}
