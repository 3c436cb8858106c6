// Package mcp exposes PCR search to MCP clients over stdio.
//
// Two tools are registered: pcr_search ranks documents for a natural
// language query and pcr_records lists catalog records by keyword.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"github.com/fyrsmithlabs/pcrsearch/internal/records"
	"github.com/fyrsmithlabs/pcrsearch/internal/search"
)

// Searcher ranks PCR documents. *search.Service satisfies it.
type Searcher interface {
	SearchRecords(ctx context.Context, query string, opts search.Options) ([]pcr.Record, error)
}

// RecordLister lists catalog records. *records.Store satisfies it.
type RecordLister interface {
	List(ctx context.Context, opts records.ListOptions) ([]pcr.Record, error)
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "pcrd").
	Name    string
	Version string
	Logger  *zap.Logger
}

// Server serves the PCR tools.
type Server struct {
	mcp     *mcp.Server
	search  Searcher
	records RecordLister
	metrics *Metrics
	logger  *zap.Logger
}

// NewServer creates a server. The searcher is required; records may be nil,
// in which case pcr_records is not registered.
func NewServer(cfg *Config, searcher Searcher, lister RecordLister) (*Server, error) {
	if searcher == nil {
		return nil, errors.New("search service is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Name == "" {
		cfg.Name = "pcrd"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		search:  searcher,
		records: lister,
		metrics: NewMetrics(logger),
		logger:  logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	return s.serve(ctx, &mcp.StdioTransport{})
}

func (s *Server) serve(ctx context.Context, t mcp.Transport) error {
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
