package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/pcrsearch/internal/config"
	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"github.com/fyrsmithlabs/pcrsearch/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const (
	fidA = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	fidB = "9a8b7c6d-1111-2222-3333-444455556666"
	fidC = "0badf00d-0000-0000-0000-000000000000"
)

// fileExtractor returns the file's bytes as its text.
type fileExtractor struct{}

func (fileExtractor) Extract(_ context.Context, path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}

type recordingWriter struct {
	mu      sync.Mutex
	batches [][]vectorstore.Document
	failOn  int
}

func (w *recordingWriter) AddDocuments(_ context.Context, docs []vectorstore.Document) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, docs)
	if w.failOn == len(w.batches) {
		return nil, errors.New("store rejected batch")
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

func (w *recordingWriter) all() []vectorstore.Document {
	var out []vectorstore.Document
	for _, b := range w.batches {
		out = append(out, b...)
	}
	return out
}

func testConfig() config.IndexerConfig {
	return config.IndexerConfig{ChunkSize: 100, ChunkOverlap: 20, MinChunkLength: 10, BatchSize: 1000}
}

func paragraph(word string, n int) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func catalog() map[string]pcr.CatalogEntry {
	return map[string]pcr.CatalogEntry{
		fidA: {"pcr_reg_no": "18-001", "document_name": "Bottled Water", "fid": fidA},
		fidB: {"pcr_reg_no": "18-002", "document_name": "Chairs", "fid": fidB},
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, fidA+"-water.pdf", paragraph("water", 30)+"\n\n"+paragraph("bottle", 30))
	writeFile(t, dir, fidB+"-chairs.PDF", paragraph("chair", 10))
	writeFile(t, dir, fidC+"-orphan.pdf", paragraph("orphan", 10))
	writeFile(t, dir, "no-fid.pdf", paragraph("nofid", 10))
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, fidB+"-blank.pdf", "   \n  ")

	w := &recordingWriter{}
	logger := logging.NewTestLogger()
	ix := New(w, testConfig(), WithExtractor(fileExtractor{}), WithLogger(logger.Logger))

	stats, err := ix.Run(context.Background(), dir, catalog())
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Files)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 1, stats.Batches)
	assert.Zero(t, stats.FailedBatches)

	docs := w.all()
	require.Len(t, docs, stats.Chunks)

	perFID := map[string][]vectorstore.Document{}
	for _, d := range docs {
		fid := d.Metadata["fid"].(string)
		perFID[fid] = append(perFID[fid], d)
	}
	require.Contains(t, perFID, fidA)
	require.Contains(t, perFID, fidB)
	assert.NotContains(t, perFID, fidC)

	for fid, ds := range perFID {
		for i, d := range ds {
			assert.Equal(t, fmt.Sprintf("%s-%d", fid, i), d.ID)
			assert.Equal(t, i, d.Metadata["chunk_index"])
			assert.LessOrEqual(t, len([]rune(d.Content)), 100)
			assert.Greater(t, len([]rune(strings.TrimSpace(d.Content))), 10)
		}
	}
	a0 := perFID[fidA][0]
	assert.Equal(t, "18-001", a0.Metadata["pcr_reg_no"])
	assert.Equal(t, "Bottled Water", a0.Metadata["document_name"])
	assert.Equal(t, fidA+"-water.pdf", a0.Metadata["downloaded_filename"])
	assert.Greater(t, len(perFID[fidA]), 1)

	logger.AssertLogged(t, zapcore.WarnLevel, "skipping file")
}

func TestRun_Batching(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, fidA+"-a.pdf", paragraph("alpha", 200))
	writeFile(t, dir, fidB+"-b.pdf", paragraph("beta", 200))

	cfg := testConfig()
	cfg.BatchSize = 7
	w := &recordingWriter{failOn: 2}
	ix := New(w, cfg, WithExtractor(fileExtractor{}))

	stats, err := ix.Run(context.Background(), dir, catalog())
	require.NoError(t, err)

	wantBatches := (stats.Chunks + cfg.BatchSize - 1) / cfg.BatchSize
	assert.Equal(t, wantBatches, stats.Batches)
	assert.Equal(t, 1, stats.FailedBatches)
	for i, b := range w.batches {
		assert.LessOrEqual(t, len(b), cfg.BatchSize, "batch %d", i)
	}
	assert.Len(t, w.all(), stats.Chunks)
}

func TestRun_Canceled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, fidA+"-a.pdf", paragraph("alpha", 50))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &recordingWriter{}
	_, err := New(w, testConfig(), WithExtractor(fileExtractor{})).Run(ctx, dir, catalog())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.batches)
}

func TestRun_MissingDir(t *testing.T) {
	_, err := New(&recordingWriter{}, testConfig()).Run(context.Background(), filepath.Join(t.TempDir(), "nope"), nil)
	assert.Error(t, err)
}

func TestPDFExtractor_NotAPDF(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "fake.pdf", "this is not a pdf")
	_, err := PDFExtractor{}.Extract(context.Background(), filepath.Join(dir, "fake.pdf"))
	assert.Error(t, err)
}
