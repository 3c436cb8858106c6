package indexer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
)

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	w := &recordingWriter{}
	logger := logging.NewTestLogger()
	ix := New(w, testConfig(), WithExtractor(fileExtractor{}), WithLogger(logger.Logger))

	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan Stats, 4)
	done := make(chan error, 1)
	go func() {
		done <- ix.Watch(ctx, dir, catalog(), 50*time.Millisecond, func(s Stats) { batches <- s })
	}()

	require.Eventually(t, func() bool {
		return logger.FilterMessage("watching pdf directory").Len() > 0
	}, 2*time.Second, 10*time.Millisecond)

	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, fidA+"-water.pdf", paragraph("water", 30))

	select {
	case s := <-batches:
		assert.Equal(t, 1, s.Files)
		assert.Zero(t, s.Skipped)
		assert.Positive(t, s.Chunks)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch indexed")
	}

	w.mu.Lock()
	docs := w.all()
	w.mu.Unlock()
	require.NotEmpty(t, docs)
	assert.Equal(t, fidA+"-water.pdf", docs[0].Metadata["downloaded_filename"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatch_MissingDir(t *testing.T) {
	ix := New(&recordingWriter{}, testConfig())
	err := ix.Watch(context.Background(), filepath.Join(t.TempDir(), "missing"), catalog(), 0, nil)
	assert.ErrorIs(t, err, ErrWatcherFailed)
}
