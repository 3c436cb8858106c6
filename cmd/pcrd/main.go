// Pcrd serves PCR document search, web chat and the LINE assistant.
//
// Configuration is read from ~/.config/pcrd/config.yaml (or -config) and
// PCRD_* environment variables. See internal/config for the keys.
//
// Usage:
//
//	# Start the server with defaults
//	pcrd
//
//	# Use Qdrant instead of the embedded index
//	PCRD_VECTORSTORE_PROVIDER=qdrant pcrd
//
//	# Serve the search tools to an MCP client over stdio
//	pcrd mcp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/tmc/langchaingo/tools"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcrsearch/internal/chat"
	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/fyrsmithlabs/pcrsearch/internal/embeddings"
	httpserver "github.com/fyrsmithlabs/pcrsearch/internal/http"
	"github.com/fyrsmithlabs/pcrsearch/internal/line"
	"github.com/fyrsmithlabs/pcrsearch/internal/llm"
	mcpserver "github.com/fyrsmithlabs/pcrsearch/internal/mcp"
	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
	"github.com/fyrsmithlabs/pcrsearch/internal/records"
	"github.com/fyrsmithlabs/pcrsearch/internal/reranker"
	"github.com/fyrsmithlabs/pcrsearch/internal/search"
	"github.com/fyrsmithlabs/pcrsearch/internal/secrets"
	"github.com/fyrsmithlabs/pcrsearch/internal/session"
	"github.com/fyrsmithlabs/pcrsearch/internal/telemetry"
	"github.com/fyrsmithlabs/pcrsearch/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.config/pcrd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	serve := run
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		case "mcp":
			serve = runMCP
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  pcrd           Start the server\n")
			fmt.Fprintf(os.Stderr, "  pcrd mcp       Serve PCR search tools over MCP stdio\n")
			fmt.Fprintf(os.Stderr, "  pcrd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := serve(ctx, cfg); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("pcrd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component in dependency order and serves until ctx is
// cancelled. The vector store and the record store must come up; chat and
// the LINE bot are optional.
func run(ctx context.Context, cfg *config.Config) error {
	tel, logger, err := setupObservability(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting pcrd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("chat", cfg.Chat.Provider),
	)

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	httpDeps := httpserver.Deps{
		Search:  deps.search,
		Records: deps.records,
		Index:   deps.store,
		Version: version,
	}
	// Leave the interfaces nil, not typed nil, so the routes answer 503.
	if deps.chat != nil {
		httpDeps.Chat = deps.chat
	}
	if deps.bot != nil {
		httpDeps.Webhook = deps.bot
	}

	srv, err := httpserver.NewServer(httpDeps, logger, &httpserver.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}
	return nil
}

// setupObservability starts telemetry and the logger writing console output
// to w.
func setupObservability(ctx context.Context, cfg *config.Config, w io.Writer) (*telemetry.Telemetry, *logging.Logger, error) {
	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logCfg.Writer = w
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("error", h.Error))
	}
	return tel, logger, nil
}

// runMCP serves the search tools on stdio. Stdout carries the protocol, so
// logs go to stderr.
func runMCP(ctx context.Context, cfg *config.Config) error {
	tel, logger, err := setupObservability(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = tel.Shutdown(context.Background()) }()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	srv, err := mcpserver.NewServer(&mcpserver.Config{
		Name:    "pcrd",
		Version: version,
		Logger:  logger.Underlying(),
	}, deps.search, deps.records)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return srv.Run(ctx)
}

// dependencies holds everything the HTTP layer needs.
type dependencies struct {
	embedder embeddings.Provider
	store    vectorstore.Store
	records  *records.Store
	sessions session.Store

	search *search.Service
	chat   *chat.Service
	bot    *line.Bot
}

// Close releases resources in reverse start order.
func (d *dependencies) Close() {
	if d.sessions != nil {
		_ = d.sessions.Close()
	}
	if d.records != nil {
		_ = d.records.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.embedder != nil {
		_ = d.embedder.Close()
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	z := logger.Underlying()
	d := &dependencies{}

	embedder, err := embeddings.NewProvider(cfg.Embeddings, z)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings provider: %w", err)
	}
	d.embedder = embedder

	store, err := vectorstore.NewStore(cfg.VectorStore, embedder, z)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	d.store = store

	if h := vectorstore.CheckHealth(ctx, store); !h.Healthy() {
		logger.Warn(ctx, "vector index is empty or missing, searches will return 503 until it is built",
			zap.String("collection", cfg.VectorStore.Collection),
			zap.String("error", h.Error),
		)
	} else {
		logger.Info(ctx, "vector index ready",
			zap.String("collection", h.Collection),
			zap.Int("passages", h.Passages),
		)
	}

	recs, err := records.Open(cfg.Records.Path, z)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	d.records = recs

	d.search = search.NewService(
		search.NewStoreIndex(store),
		reranker.NewDocumentReranker(reranker.WithLogger(logger)),
		cfg.Search,
		logger,
	)

	d.sessions = session.NewMemoryStore(cfg.Session, z)

	gen, err := llm.New(ctx, cfg.Chat, z)
	switch {
	case errors.Is(err, llm.ErrUnknownProvider):
		d.Close()
		return nil, err
	case err != nil:
		logger.Warn(ctx, "chat disabled", zap.Error(err))
	default:
		opts, err := redactionOptions(cfg.Chat, logger)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.chat = chat.NewService(gen, d.sessions, cfg.Chat, logger, opts...)

		// Function-calling providers pick their tools; gemini gets every tool result.
		assistantOpts := slices.Clone(opts)
		if lc, ok := gen.(*llm.LangChain); ok {
			assistantOpts = append(assistantOpts, chat.WithAgent(lc.Model()))
		}
		assistant := chat.NewAssistant(gen, d.sessions, []tools.Tool{
			chat.NewDatabaseSearchTool(recs, logger),
			chat.NewVectorSearchTool(d.search, logger),
		}, cfg.Chat, logger, assistantOpts...)

		if !cfg.Line.ChannelAccessToken.IsSet() {
			logger.Warn(ctx, "LINE channel access token not set, webhook replies will fail")
		}
		if !cfg.Line.ChannelSecret.IsSet() {
			logger.Warn(ctx, "LINE channel secret not set, webhook signatures are not verified")
		}
		d.bot = line.NewBot(cfg.Line.ChannelSecret.Value(), chat.FallbackReply,
			assistant, line.NewClient(cfg.Line), logger)
	}

	return d, nil
}

func redactionOptions(cfg config.ChatConfig, logger *logging.Logger) ([]chat.Option, error) {
	if cfg.DisableRedaction {
		return nil, nil
	}
	allow, err := secrets.LoadAllowlist(cfg.SecretAllowlist)
	if err != nil {
		return nil, fmt.Errorf("failed to load secret allowlist: %w", err)
	}
	r, err := secrets.NewRedactor(allow, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret redactor: %w", err)
	}
	return []chat.Option{chat.WithRedactor(r)}, nil
}
