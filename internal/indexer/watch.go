package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
)

// ErrWatcherFailed indicates the filesystem watcher could not be started.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// DefaultDebounce is how long a PDF must stay unchanged before it is indexed.
const DefaultDebounce = 2 * time.Second

// Watch indexes PDFs that are created or rewritten in dir until ctx is done.
// Changes are collected until no event has arrived for debounce, then the
// changed files are indexed together. onBatch, if set, receives the stats of
// every batch.
func (ix *Indexer) Watch(ctx context.Context, dir string, catalog map[string]pcr.CatalogEntry, debounce time.Duration, onBatch func(Stats)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("%w: watching %s: %v", ErrWatcherFailed, dir, err)
	}
	ix.logger.Info(ctx, "watching pdf directory", zap.String("dir", dir), zap.Duration("debounce", debounce))

	changed := make(map[string]struct{})
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(event.Name)
			if !isPDF(name) {
				continue
			}
			changed[name] = struct{}{}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			ix.logger.Warn(ctx, "watcher error", zap.Error(err))

		case <-timer.C:
			files := make([]string, 0, len(changed))
			for name := range changed {
				files = append(files, name)
			}
			changed = make(map[string]struct{})

			stats, err := ix.IndexFiles(ctx, dir, files, catalog)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if onBatch != nil {
				onBatch(stats)
			}
		}
	}
}
