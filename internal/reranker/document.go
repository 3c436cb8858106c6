package reranker

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultSeparator separates passages inside an aggregated document.
const DefaultSeparator = "\n\n--- passage boundary ---\n\n"

// ErrNilContext is returned when a nil context is passed to Rerank.
var ErrNilContext = errors.New("context cannot be nil")

var tracer = otel.Tracer("pcrd.reranker")

// DocumentReranker ranks documents by how many of their passages appear in
// the candidate set. Ties keep first-occurrence order, so identical input
// always yields identical output. It holds no per-query state and is safe
// for concurrent use.
type DocumentReranker struct {
	logger    *logging.Logger
	separator string
}

// Option configures a DocumentReranker.
type Option func(*DocumentReranker)

// WithLogger sets the logger used for dropped passages and skipped documents.
func WithLogger(l *logging.Logger) Option {
	return func(r *DocumentReranker) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSeparator overrides DefaultSeparator.
func WithSeparator(sep string) Option {
	return func(r *DocumentReranker) { r.separator = sep }
}

// NewDocumentReranker creates a DocumentReranker.
func NewDocumentReranker(opts ...Option) *DocumentReranker {
	r := &DocumentReranker{logger: logging.Nop(), separator: DefaultSeparator}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank runs RankTopDocuments followed by AggregateDocuments.
func (r *DocumentReranker) Rerank(ctx context.Context, query string, passages []Passage, topN int) ([]AggregatedRecord, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	ctx, span := tracer.Start(ctx, "DocumentReranker.Rerank")
	defer span.End()

	selected := r.RankTopDocuments(ctx, passages, topN)
	records := r.AggregateDocuments(ctx, passages, selected)

	span.SetAttributes(
		attribute.Int("query.length", len(query)),
		attribute.Int("passages.count", len(passages)),
		attribute.Int("top_n", topN),
		attribute.Int("documents.count", len(records)),
	)
	return records, nil
}

// RankTopDocuments returns up to topN distinct fids ordered by passage count,
// highest first. Equal counts keep the order in which each fid first appears.
// Passages without a fid are ignored. topN <= 0 selects nothing.
func (r *DocumentReranker) RankTopDocuments(ctx context.Context, passages []Passage, topN int) []string {
	if topN <= 0 || len(passages) == 0 {
		return []string{}
	}

	counts := make(map[string]int)
	order := make([]string, 0)
	dropped := 0
	for _, p := range passages {
		fid, ok := p.FID()
		if !ok {
			dropped++
			continue
		}
		if counts[fid] == 0 {
			order = append(order, fid)
		}
		counts[fid]++
	}
	if dropped > 0 {
		r.logger.Debug(ctx, "passages without fid excluded from ranking", zap.Int("dropped", dropped))
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > topN {
		order = order[:topN]
	}
	return order
}

// AggregateDocuments joins, for each selected fid, the texts of its passages
// in candidate order. Metadata comes from the first passage of each document.
// Records follow the order of selected. A selected fid with no passages is
// skipped with a warning.
func (r *DocumentReranker) AggregateDocuments(ctx context.Context, passages []Passage, selected []string) []AggregatedRecord {
	if len(selected) == 0 {
		return []AggregatedRecord{}
	}

	wanted := make(map[string]struct{}, len(selected))
	for _, fid := range selected {
		wanted[fid] = struct{}{}
	}

	type accumulator struct {
		rec   *AggregatedRecord
		texts []string
	}
	acc := make(map[string]*accumulator, len(selected))
	for _, p := range passages {
		fid, ok := p.FID()
		if !ok {
			continue
		}
		if _, ok := wanted[fid]; !ok {
			continue
		}
		a, seen := acc[fid]
		if !seen {
			a = &accumulator{rec: newRecord(fid, p.Metadata)}
			acc[fid] = a
		}
		a.texts = append(a.texts, p.Text)
	}

	out := make([]AggregatedRecord, 0, len(selected))
	emitted := make(map[string]struct{}, len(selected))
	for _, fid := range selected {
		if _, dup := emitted[fid]; dup {
			continue
		}
		emitted[fid] = struct{}{}
		a, ok := acc[fid]
		if !ok {
			r.logger.Warn(ctx, "selected document has no passages, skipping", zap.String("fid", fid))
			continue
		}
		rec := a.rec
		rec.Content = strings.Join(a.texts, r.separator)
		rec.PassageCount = len(a.texts)
		rec.Rank = len(out) + 1
		out = append(out, *rec)
	}
	return out
}

// Close is a no-op.
func (r *DocumentReranker) Close() error {
	return nil
}
