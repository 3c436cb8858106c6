// Package search composes similarity search with document-level reranking.
//
// Service.Search asks the Index for InitialK passages, keeps the TopN
// documents with the most passages among them and returns each document with
// its passages joined. An empty query returns no results without touching the
// index. Index failures are not retried here.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"github.com/fyrsmithlabs/pcrsearch/internal/reranker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var (
	// ErrIndexUnavailable means the similarity index is not initialized or
	// cannot be reached. Callers answer "index unavailable, try later".
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrInvalidOptions rejects negative or oversized search options.
	ErrInvalidOptions = errors.New("invalid search options")
)

// Defaults used when Options leave a field zero.
const (
	DefaultTopN     = 10
	DefaultInitialK = 100
	DefaultMaxK     = 1000
)

var tracer = otel.Tracer("pcrd.search")

// Options tune one search. Zero fields take the service defaults.
type Options struct {
	// TopN is the number of documents to return.
	TopN int
	// InitialK is the number of passages requested from the index.
	InitialK int
}

// Service runs document-level searches.
type Service struct {
	index    Index
	reranker reranker.Reranker
	logger   *logging.Logger

	topN     int
	initialK int
	maxK     int
}

// NewService creates a Service. cfg zero values fall back to the package defaults.
func NewService(index Index, rr reranker.Reranker, cfg config.SearchConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	if rr == nil {
		rr = reranker.NewDocumentReranker(reranker.WithLogger(logger))
	}
	s := &Service{index: index, reranker: rr, logger: logger, topN: cfg.TopN, initialK: cfg.InitialK, maxK: cfg.MaxK}
	if s.topN <= 0 {
		s.topN = DefaultTopN
	}
	if s.initialK <= 0 {
		s.initialK = DefaultInitialK
	}
	if s.maxK <= 0 {
		s.maxK = DefaultMaxK
	}
	return s
}

func (s *Service) resolve(opts Options) (Options, error) {
	if opts.TopN < 0 || opts.InitialK < 0 {
		return opts, fmt.Errorf("%w: top_n and k must not be negative", ErrInvalidOptions)
	}
	if opts.TopN == 0 {
		opts.TopN = s.topN
	}
	if opts.InitialK == 0 {
		opts.InitialK = s.initialK
	}
	if opts.InitialK > s.maxK {
		return opts, fmt.Errorf("%w: k %d exceeds maximum %d", ErrInvalidOptions, opts.InitialK, s.maxK)
	}
	return opts, nil
}

// Search returns at most opts.TopN aggregated documents for query, best first.
func (s *Service) Search(ctx context.Context, query string, opts Options) ([]reranker.AggregatedRecord, error) {
	start := time.Now()
	defer func() { SearchDuration.Observe(time.Since(start).Seconds()) }()

	if strings.TrimSpace(query) == "" {
		SearchesTotal.WithLabelValues("empty_query").Inc()
		return []reranker.AggregatedRecord{}, nil
	}
	opts, err := s.resolve(opts)
	if err != nil {
		SearchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Service.Search")
	defer span.End()
	span.SetAttributes(
		attribute.Int("top_n", opts.TopN),
		attribute.Int("initial_k", opts.InitialK),
	)

	passages, err := s.index.SimilaritySearch(ctx, query, opts.InitialK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrIndexUnavailable) {
			SearchesTotal.WithLabelValues("unavailable").Inc()
			s.logger.Warn(ctx, "similarity index unavailable", zap.Error(err))
			return nil, err
		}
		SearchesTotal.WithLabelValues("error").Inc()
		s.logger.Error(ctx, "similarity search failed", zap.Error(err))
		return nil, err
	}
	PassagesRetrieved.Observe(float64(len(passages)))

	records, err := s.reranker.Rerank(ctx, query, passages, opts.TopN)
	if err != nil {
		span.RecordError(err)
		SearchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reranking: %w", err)
	}

	DocumentsReturned.Observe(float64(len(records)))
	SearchesTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(
		attribute.Int("passages.count", len(passages)),
		attribute.Int("documents.count", len(records)),
	)
	s.logger.Debug(ctx, "search completed",
		zap.Int("passages", len(passages)),
		zap.Int("documents", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return records, nil
}

// SearchRecords is Search with each document shaped as a pcr.Record.
func (s *Service) SearchRecords(ctx context.Context, query string, opts Options) ([]pcr.Record, error) {
	aggs, err := s.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return ToRecords(aggs), nil
}

// ToRecords maps aggregated documents to records carrying the joined text.
func ToRecords(aggs []reranker.AggregatedRecord) []pcr.Record {
	out := make([]pcr.Record, len(aggs))
	for i, a := range aggs {
		r := pcr.RecordFromMetadata(a.Metadata)
		r.FID = a.FID
		r.PageContent = a.Content
		r.PassageCount = a.PassageCount
		out[i] = r
	}
	return out
}
