package ingest

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"

	"acme.com/hr-assistant/internal/logging"
)

// debounce window between a file event and the pipeline run, so a document
// still being copied in is not picked up half-written.
const watchSettle = 2 * time.Second

// Watcher re-runs the ingestion pipeline whenever a .txt document lands in
// the pending directory.
type Watcher struct {
	pipeline *Pipeline
	dir      string
}

func NewWatcher(pipeline *Pipeline, dir string) *Watcher {
	return &Watcher{pipeline: pipeline, dir: dir}
}

// Watch blocks until the context is cancelled, running the pipeline after
// each settled burst of file events.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return goerr.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return goerr.Wrap(err, "failed to watch directory", goerr.V("dir", w.dir))
	}

	log := logging.From(ctx)
	log.Info("watching for new documents", "dir", w.dir)

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".txt" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchSettle)
			} else {
				timer.Reset(watchSettle)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if _, err := w.pipeline.Run(ctx); err != nil {
				log.Error("watch-triggered ingestion failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("file watcher error", "error", err)
		}
	}
}
