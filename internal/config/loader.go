package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PCRD_"
)

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. PCRD_* environment variables (PCRD_SERVER_PORT, PCRD_SEARCH_TOP_N, ...)
//  2. YAML config file (~/.config/pcrd/config.yaml)
//  3. Well-known provider variables (GEMINI_API_KEY, LINE_CHANNEL_SECRET, ...)
//  4. Hardcoded defaults
//
// An empty configPath selects the default path. A missing file is not an
// error. An existing file must live under ~/.config/pcrd/ or /etc/pcrd/, be
// mode 0600 or 0400, and be at most 1MB.
//
// Environment variables are mapped by splitting on the first underscore
// after the prefix:
//
//	PCRD_SERVER_PORT          -> server.port
//	PCRD_VECTORSTORE_QDRANT_HOST -> vectorstore.qdrant_host
//	PCRD_LINE_CHANNEL_SECRET  -> line.channel_secret
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	if _, err := os.Stat(configPath); err == nil {
		// Validate through the open descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps PCRD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// DefaultConfigDir returns ~/.config/pcrd.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "pcrd"), nil
}

// EnsureConfigDir creates the pcrd config directory with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := DefaultConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks that path is inside an allowed directory. It runs
// even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	userDir, err := DefaultConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{userDir, "/etc/pcrd"} {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/pcrd/ or /etc/pcrd/")
}

// validateConfigFileProperties checks permissions and size on an open file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills every zero-valued field.
func applyDefaults(cfg *Config) {
	// Server
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = getEnvInt("PORT", 8000)
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	// Vector store (chromem is embedded, no external deps)
	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "pcr_documents"
	}
	if cfg.VectorStore.VectorSize == 0 {
		cfg.VectorStore.VectorSize = 384 // bge-small-en-v1.5
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = "~/.local/share/pcrd/vectorstore"
	}
	if cfg.VectorStore.QdrantHost == "" {
		cfg.VectorStore.QdrantHost = getEnvString("QDRANT_HOST", "localhost")
	}
	if cfg.VectorStore.QdrantPort == 0 {
		cfg.VectorStore.QdrantPort = getEnvInt("QDRANT_PORT", 6334)
	}

	// Embeddings
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if !cfg.Embeddings.APIKey.IsSet() && cfg.Embeddings.Provider == "openai" {
		cfg.Embeddings.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = "~/.local/share/pcrd/models"
	}

	// Records
	if cfg.Records.Path == "" {
		cfg.Records.Path = "~/.local/share/pcrd/pcr_list.db"
	}

	// Search
	if cfg.Search.TopN == 0 {
		cfg.Search.TopN = 10
	}
	if cfg.Search.InitialK == 0 {
		cfg.Search.InitialK = 100
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 1000
	}

	// Indexer
	if cfg.Indexer.PDFDir == "" {
		cfg.Indexer.PDFDir = "downloaded_pcr_pdfs"
	}
	if cfg.Indexer.CatalogFile == "" {
		cfg.Indexer.CatalogFile = "pcr_records_with_fid.json"
	}
	if cfg.Indexer.ChunkSize == 0 {
		cfg.Indexer.ChunkSize = 1000
	}
	if cfg.Indexer.ChunkOverlap == 0 {
		cfg.Indexer.ChunkOverlap = 200
	}
	if cfg.Indexer.MinChunkLength == 0 {
		cfg.Indexer.MinChunkLength = 50
	}
	if cfg.Indexer.BatchSize == 0 {
		cfg.Indexer.BatchSize = 1000
	}

	// Chat
	if cfg.Chat.Provider == "" {
		cfg.Chat.Provider = "gemini"
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = defaultChatModel(cfg.Chat.Provider)
	}
	if !cfg.Chat.APIKey.IsSet() {
		cfg.Chat.APIKey = Secret(os.Getenv(chatKeyEnv(cfg.Chat.Provider)))
	}
	if cfg.Chat.Temperature == 0 {
		cfg.Chat.Temperature = 0.7
	}
	if cfg.Chat.Timeout == 0 {
		cfg.Chat.Timeout = Duration(getEnvDuration("LLM_TIMEOUT", 60*time.Second))
	}
	if cfg.Chat.HistoryWindow == 0 {
		cfg.Chat.HistoryWindow = 40
	}
	if cfg.Chat.SecretAllowlist == "" {
		if dir, err := DefaultConfigDir(); err == nil {
			cfg.Chat.SecretAllowlist = filepath.Join(dir, "secrets_allowlist.toml")
		}
	}

	// Session
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = Duration(30 * time.Minute)
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = Duration(5 * time.Minute)
	}
	if cfg.Session.MaxMessages == 0 {
		cfg.Session.MaxMessages = 200
	}

	// LINE
	if !cfg.Line.ChannelSecret.IsSet() {
		cfg.Line.ChannelSecret = Secret(os.Getenv("LINE_CHANNEL_SECRET"))
	}
	if !cfg.Line.ChannelAccessToken.IsSet() {
		cfg.Line.ChannelAccessToken = Secret(os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"))
	}
	if cfg.Line.ReplyURL == "" {
		cfg.Line.ReplyURL = "https://api.line.me/v2/bot/message/reply"
	}
	if cfg.Line.Timeout == 0 {
		cfg.Line.Timeout = Duration(10 * time.Second)
	}

	// Observability
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "pcrd"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Observability.TraceSampleRatio == 0 {
		cfg.Observability.TraceSampleRatio = 1.0
	}
}

func defaultChatModel(provider string) string {
	switch provider {
	case "openai":
		return "gpt-4o-mini"
	case "anthropic":
		return "claude-3-5-haiku-latest"
	default:
		return "gemini-2.5-flash"
	}
}

func chatKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return "GEMINI_API_KEY"
	}
}
