// Package indexer builds the passage index from downloaded PCR PDFs.
//
// Each PDF is named {fid}-{name}.pdf. Its text is split into overlapping
// chunks and every chunk is stored with the catalog metadata of its document,
// so search results can be attributed back to the document by fid.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"github.com/fyrsmithlabs/pcrsearch/internal/vectorstore"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"
)

// Writer persists chunks. vectorstore.Store satisfies it.
type Writer interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) ([]string, error)
}

// Stats summarizes one run.
type Stats struct {
	Files         int `json:"files"`
	Skipped       int `json:"skipped"`
	Chunks        int `json:"chunks"`
	Batches       int `json:"batches"`
	FailedBatches int `json:"failed_batches"`
}

// Indexer turns PDFs into stored chunks.
type Indexer struct {
	extractor TextExtractor
	splitter  textsplitter.TextSplitter
	writer    Writer
	logger    *logging.Logger

	minChunkLength int
	batchSize      int
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithExtractor replaces the PDF extractor.
func WithExtractor(e TextExtractor) Option {
	return func(ix *Indexer) { ix.extractor = e }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// New creates an Indexer writing to w with chunking from cfg.
func New(w Writer, cfg config.IndexerConfig, opts ...Option) *Indexer {
	ix := &Indexer{
		extractor: PDFExtractor{},
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
		),
		writer:         w,
		logger:         logging.Nop(),
		minChunkLength: cfg.MinChunkLength,
		batchSize:      cfg.BatchSize,
	}
	if ix.batchSize <= 0 {
		ix.batchSize = 1000
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Run indexes every *.pdf in dir whose fid appears in catalog. Per-file and
// per-batch failures are logged and counted; only context cancellation or an
// unreadable directory stops the run.
func (ix *Indexer) Run(ctx context.Context, dir string, catalog map[string]pcr.CatalogEntry) (Stats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("reading pdf directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && isPDF(e.Name()) {
			files = append(files, e.Name())
		}
	}
	return ix.IndexFiles(ctx, dir, files, catalog)
}

// IndexFiles indexes the named files in dir. Chunk IDs derive from the fid
// and chunk position, so indexing a file again overwrites the chunks at the
// same positions.
func (ix *Indexer) IndexFiles(ctx context.Context, dir string, files []string, catalog map[string]pcr.CatalogEntry) (Stats, error) {
	var stats Stats
	files = append([]string(nil), files...)
	sort.Strings(files)
	ix.logger.Info(ctx, "indexing started", zap.String("dir", dir), zap.Int("files", len(files)), zap.Int("catalog", len(catalog)))

	var pending []vectorstore.Document
	flush := func() {
		if len(pending) == 0 {
			return
		}
		stats.Batches++
		if _, err := ix.writer.AddDocuments(ctx, pending); err != nil {
			stats.FailedBatches++
			BatchesTotal.WithLabelValues("error").Inc()
			ix.logger.Error(ctx, "batch write failed", zap.Int("batch", stats.Batches), zap.Int("chunks", len(pending)), zap.Error(err))
		} else {
			BatchesTotal.WithLabelValues("ok").Inc()
			ix.logger.Info(ctx, "batch written", zap.Int("batch", stats.Batches), zap.Int("chunks", len(pending)))
		}
		pending = nil
	}

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Files++

		docs, err := ix.chunkFile(ctx, filepath.Join(dir, name), name, catalog)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Skipped++
			FilesTotal.WithLabelValues("skipped").Inc()
			ix.logger.Warn(ctx, "skipping file", zap.String("file", name), zap.Error(err))
			continue
		}
		FilesTotal.WithLabelValues("indexed").Inc()
		ChunksTotal.Add(float64(len(docs)))
		stats.Chunks += len(docs)

		for len(docs) > 0 {
			room := ix.batchSize - len(pending)
			if room > len(docs) {
				room = len(docs)
			}
			pending = append(pending, docs[:room]...)
			docs = docs[room:]
			if len(pending) >= ix.batchSize {
				flush()
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	flush()

	ix.logger.Info(ctx, "indexing finished",
		zap.Int("files", stats.Files),
		zap.Int("skipped", stats.Skipped),
		zap.Int("chunks", stats.Chunks),
		zap.Int("batches", stats.Batches),
		zap.Int("failed_batches", stats.FailedBatches),
	)
	return stats, nil
}

func isPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

func (ix *Indexer) chunkFile(ctx context.Context, path, name string, catalog map[string]pcr.CatalogEntry) ([]vectorstore.Document, error) {
	fid, err := pcr.FIDFromFilename(name)
	if err != nil {
		return nil, err
	}
	entry, ok := catalog[fid]
	if !ok {
		return nil, fmt.Errorf("fid %s not in catalog", fid)
	}

	text, err := ix.extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text extracted")
	}

	chunks, err := ix.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("splitting text: %w", err)
	}

	docs := make([]vectorstore.Document, 0, len(chunks))
	for _, c := range chunks {
		if utf8.RuneCountInString(strings.TrimSpace(c)) <= ix.minChunkLength {
			continue
		}
		i := len(docs)
		md := make(map[string]any, len(entry)+3)
		for k, v := range entry {
			md[k] = v
		}
		md[pcr.KeyFID] = fid
		md[pcr.KeyFilename] = name
		md[pcr.KeyChunkIndex] = i
		docs = append(docs, vectorstore.Document{
			ID:       fmt.Sprintf("%s-%d", fid, i),
			Content:  c,
			Metadata: md,
		})
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no chunks longer than %d characters", ix.minChunkLength)
	}
	return docs, nil
}
