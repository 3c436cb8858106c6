// Package config provides configuration loading for pcrd.
//
// Configuration is read from an optional YAML file and environment variables
// and then completed with defaults. See LoadWithFile for precedence rules.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete pcrd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Records       RecordsConfig       `koanf:"records"`
	Search        SearchConfig        `koanf:"search"`
	Indexer       IndexerConfig       `koanf:"indexer"`
	Chat          ChatConfig          `koanf:"chat"`
	Session       SessionConfig       `koanf:"session"`
	Line          LineConfig          `koanf:"line"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// VectorStoreConfig selects and configures the passage index.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider   string `koanf:"provider"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`

	// chromem
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`

	// qdrant
	QdrantHost string `koanf:"qdrant_host"`
	QdrantPort int    `koanf:"qdrant_port"`
	QdrantTLS  bool   `koanf:"qdrant_tls"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "fastembed", "tei" or "openai".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
}

// RecordsConfig configures the relational lookup store.
type RecordsConfig struct {
	Path string `koanf:"path"`
}

// SearchConfig holds document-level search defaults.
type SearchConfig struct {
	TopN     int `koanf:"top_n"`
	InitialK int `koanf:"initial_k"`
	MaxK     int `koanf:"max_k"`
}

// IndexerConfig holds PDF indexing parameters.
type IndexerConfig struct {
	PDFDir         string `koanf:"pdf_dir"`
	CatalogFile    string `koanf:"catalog_file"`
	ChunkSize      int    `koanf:"chunk_size"`
	ChunkOverlap   int    `koanf:"chunk_overlap"`
	MinChunkLength int    `koanf:"min_chunk_length"`
	BatchSize      int    `koanf:"batch_size"`
}

// ChatConfig selects the LLM provider used by chat and the assistant.
type ChatConfig struct {
	// Provider is "gemini", "openai" or "anthropic".
	Provider      string   `koanf:"provider"`
	Model         string   `koanf:"model"`
	BaseURL       string   `koanf:"base_url"`
	APIKey        Secret   `koanf:"api_key"`
	Temperature   float64  `koanf:"temperature"`
	Timeout       Duration `koanf:"timeout"`
	HistoryWindow int      `koanf:"history_window"`

	// DisableRedaction passes user text through without secret scanning.
	DisableRedaction bool   `koanf:"disable_redaction"`
	SecretAllowlist  string `koanf:"secret_allowlist"`
}

// SessionConfig controls chat session retention.
type SessionConfig struct {
	TTL             Duration `koanf:"ttl"`
	CleanupInterval Duration `koanf:"cleanup_interval"`
	MaxMessages     int      `koanf:"max_messages"`
}

// LineConfig holds LINE Messaging API credentials.
type LineConfig struct {
	ChannelSecret      Secret   `koanf:"channel_secret"`
	ChannelAccessToken Secret   `koanf:"channel_access_token"`
	ReplyURL           string   `koanf:"reply_url"`
	Timeout            Duration `koanf:"timeout"`
}

// ObservabilityConfig holds logging and OpenTelemetry settings.
type ObservabilityConfig struct {
	LogLevel         string  `koanf:"log_level"`
	LogFormat        string  `koanf:"log_format"`
	EnableTelemetry  bool    `koanf:"enable_telemetry"`
	ServiceName      string  `koanf:"service_name"`
	OTLPEndpoint     string  `koanf:"otlp_endpoint"`
	OTLPInsecure     bool    `koanf:"otlp_insecure"`
	TraceSampleRatio float64 `koanf:"trace_sample_ratio"`
}

var (
	vectorStoreProviders = []string{"chromem", "qdrant"}
	embeddingProviders   = []string{"fastembed", "tei", "openai", "hash"}
	chatProviders        = []string{"gemini", "openai", "anthropic"}
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if !oneOf(c.VectorStore.Provider, vectorStoreProviders) {
		return fmt.Errorf("unsupported vectorstore provider %q (supported: %s)",
			c.VectorStore.Provider, strings.Join(vectorStoreProviders, ", "))
	}
	if c.VectorStore.Collection == "" {
		return errors.New("vectorstore collection is required")
	}
	if c.VectorStore.Provider == "qdrant" && (c.VectorStore.QdrantPort < 1 || c.VectorStore.QdrantPort > 65535) {
		return fmt.Errorf("invalid qdrant port: %d", c.VectorStore.QdrantPort)
	}
	if !oneOf(c.Embeddings.Provider, embeddingProviders) {
		return fmt.Errorf("unsupported embeddings provider %q (supported: %s)",
			c.Embeddings.Provider, strings.Join(embeddingProviders, ", "))
	}

	if c.Search.TopN <= 0 {
		return fmt.Errorf("search top_n must be positive, got %d", c.Search.TopN)
	}
	if c.Search.InitialK <= 0 {
		return fmt.Errorf("search initial_k must be positive, got %d", c.Search.InitialK)
	}
	if c.Search.MaxK < c.Search.InitialK {
		return fmt.Errorf("search max_k (%d) must be >= initial_k (%d)", c.Search.MaxK, c.Search.InitialK)
	}

	if c.Indexer.ChunkSize <= 0 {
		return errors.New("indexer chunk_size must be positive")
	}
	if c.Indexer.ChunkOverlap < 0 || c.Indexer.ChunkOverlap >= c.Indexer.ChunkSize {
		return fmt.Errorf("indexer chunk_overlap must be in [0, %d)", c.Indexer.ChunkSize)
	}
	if c.Indexer.BatchSize <= 0 {
		return errors.New("indexer batch_size must be positive")
	}

	if !oneOf(c.Chat.Provider, chatProviders) {
		return fmt.Errorf("unsupported chat provider %q (supported: %s)",
			c.Chat.Provider, strings.Join(chatProviders, ", "))
	}
	if c.Chat.HistoryWindow <= 0 {
		return errors.New("chat history_window must be positive")
	}
	if c.Session.TTL.Duration() <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.Session.MaxMessages < c.Chat.HistoryWindow {
		return fmt.Errorf("session max_messages (%d) must be >= chat history_window (%d)",
			c.Session.MaxMessages, c.Chat.HistoryWindow)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
