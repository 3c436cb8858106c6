// Package embeddings turns passage and query text into vectors.
//
// Three providers are supported: fastembed (local ONNX models, requires cgo),
// tei (a Text Embeddings Inference server) and openai (any OpenAI-compatible
// embeddings endpoint through langchaingo). A hash provider needs no model.
// NewProvider picks one from configuration.
package embeddings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/fyrsmithlabs/pcrsearch/internal/vectorstore"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is an Embedder that knows its output size and owns resources.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	Close() error
}

// knownDimensions covers the models the service is commonly deployed with.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
}

// DimensionForModel guesses the output size of model, falling back to 384.
func DimensionForModel(model string) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "large"):
		return 1024
	case strings.Contains(lower, "base"):
		return 768
	default:
		return 384
	}
}

// NewProvider builds the provider named by cfg.Provider.
func NewProvider(cfg config.EmbeddingsConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := NewMetrics(logger)

	switch cfg.Provider {
	case "fastembed", "":
		cacheDir, err := config.ExpandPath(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		p, err := NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cacheDir})
		if err != nil {
			return nil, err
		}
		logger.Info("embedding provider ready", zap.String("provider", "fastembed"), zap.String("model", cfg.Model))
		return &instrumented{Provider: p, model: cfg.Model, metrics: metrics}, nil

	case "tei":
		p, err := NewTEIProvider(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model})
		if err != nil {
			return nil, err
		}
		logger.Info("embedding provider ready", zap.String("provider", "tei"), zap.String("base_url", cfg.BaseURL))
		return &instrumented{Provider: p, model: cfg.Model, metrics: metrics}, nil

	case "openai":
		p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model, APIKey: cfg.APIKey.Value()})
		if err != nil {
			return nil, err
		}
		logger.Info("embedding provider ready", zap.String("provider", "openai"), zap.String("model", cfg.Model))
		return &instrumented{Provider: p, model: cfg.Model, metrics: metrics}, nil

	case "hash":
		logger.Warn("using hash embeddings, search quality is keyword-level only")
		return NewHashEmbedder(DimensionForModel(cfg.Model)), nil

	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: fastembed, tei, openai, hash)", ErrInvalidConfig, cfg.Provider)
	}
}
