package listener

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"wqm/internal/pipeline"
)

const defaultSettle = 500 * time.Millisecond

// Watcher reconciles log files as they land in a directory.
type Watcher struct {
	dir       string
	processor *pipeline.ProcessingService
	detect    pipeline.Options
	settle    time.Duration

	// pending settle timers by path, owned by the Run goroutine
	timers map[string]settleTimer

	mu sync.Mutex
}

type settleTimer struct {
	timer *time.Timer
	gen   uint64
}

type settled struct {
	path string
	gen  uint64
}

func NewWatcher(dir string, processor *pipeline.ProcessingService, detect pipeline.Options) *Watcher {
	return &Watcher{dir: dir, processor: processor, detect: detect, settle: defaultSettle}
}

// ShouldReconcile filters out our own outputs and anything that is not a
// delimited-text log.
func ShouldReconcile(path string) bool {
	name := filepath.Base(path)
	switch {
	case strings.HasPrefix(name, "."):
		return false
	case strings.HasPrefix(name, "edited_"):
		return false
	case strings.HasSuffix(name, " - failed.csv"):
		return false
	}
	return pipeline.HasLogExtension(name)
}

// Run blocks until ctx is done. Each file is reconciled once writes to it
// have been quiet for the settle period.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	slog.Info("watching directory", "dir", w.dir)

	w.timers = make(map[string]settleTimer)
	defer func() {
		for _, t := range w.timers {
			t.timer.Stop()
		}
	}()

	fired := make(chan settled)
	quit := make(chan struct{})
	defer close(quit)
	var gen uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !ShouldReconcile(event.Name) {
				continue
			}
			path := event.Name
			if t, exists := w.timers[path]; exists {
				t.timer.Stop()
			}
			gen++
			done := settled{path: path, gen: gen}
			timer := time.AfterFunc(w.settle, func() {
				select {
				case fired <- done:
				case <-quit:
				}
			})
			w.timers[path] = settleTimer{timer: timer, gen: gen}
		case done := <-fired:
			if t, exists := w.timers[done.path]; !exists || t.gen != done.gen {
				continue
			}
			delete(w.timers, done.path)
			go w.handle(ctx, done.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("cannot read dropped file", "path", path, "error", err)
		}
		return
	}
	if detect := pipeline.DetectInstrumentLog(path, content, w.detect); !detect.IsLog {
		slog.Info("ignoring non-log file", "path", path, "score", detect.Score)
		return
	}

	if _, err := w.processor.ReconcileFile(ctx, path, ""); err != nil {
		slog.Error("watch reconciliation failed", "path", path, "error", err)
	}
}
