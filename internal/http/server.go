// Package http serves the pcrd REST API, the chat endpoint and the LINE
// webhook.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcrsearch/internal/chat"
	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"github.com/fyrsmithlabs/pcrsearch/internal/records"
	"github.com/fyrsmithlabs/pcrsearch/internal/search"
	"github.com/fyrsmithlabs/pcrsearch/internal/vectorstore"
)

// Searcher runs document-level searches.
type Searcher interface {
	SearchRecords(ctx context.Context, query string, opts search.Options) ([]pcr.Record, error)
}

// RecordStore is the relational lookup path.
type RecordStore interface {
	List(ctx context.Context, opts records.ListOptions) ([]pcr.Record, error)
	Ping(ctx context.Context) error
}

// Chatter answers web chat requests.
type Chatter interface {
	Chat(ctx context.Context, req chat.Request) (chat.Response, error)
}

// WebhookHandler processes LINE webhook bodies.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) error
}

// Deps are the services behind the routes. A nil dependency makes its
// routes answer 503.
type Deps struct {
	Search  Searcher
	Records RecordStore
	Chat    Chatter
	Webhook WebhookHandler
	Index   vectorstore.Store
	Version string
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the pcrd HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "0.0.0.0",
			Port: 8000,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger.Underlying()),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.requestContext)

	s.registerRoutes()
	return s, nil
}

// requestContext puts the request ID on the context and logs the request.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		reqID := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), reqID)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		if err != nil {
			// Let echo write the error so the logged status is final.
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/pcr_records", s.handleRecords)
	s.echo.GET("/pcr_records/", s.handleRecords)

	s.echo.POST("/api/chat", s.handleChat)
	s.echo.POST("/webhook", s.handleWebhook)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/search", s.handleSearch)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
