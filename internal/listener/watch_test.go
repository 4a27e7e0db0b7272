package listener

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wqm/internal/pipeline"
	"wqm/internal/schema"
)

func TestShouldReconcile(t *testing.T) {
	cases := map[string]bool{
		"/in/site.csv":                 true,
		"/in/site.LOG":                 true,
		"/in/edited_site.csv":          false,
		"/in/edited_site - failed.csv": false,
		"/in/site - failed.csv":        false,
		"/in/.wqm-123.tmp":             false,
		"/in/.site.csv":                false,
		"/in/photo.jpg":                false,
	}
	for path, want := range cases {
		if got := ShouldReconcile(path); got != want {
			t.Fatalf("%s: got %v want %v", path, got, want)
		}
	}
}

func TestWatcherReconcilesDroppedFile(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.OutputDir = ""
	watchDir := filepath.Join(dir, "inbox")

	s := schema.Default()
	processor := pipeline.NewProcessingService(nil, cfg, s)
	w := NewWatcher(watchDir, processor, pipeline.OptionsFromConfig(cfg, s))
	w.settle = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	stopped := false
	defer func() {
		if !stopped {
			cancel()
			<-done
		}
	}()

	// Give the watcher time to register the directory.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(watchDir); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("watch dir never created")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(watchDir, "site.csv"), []byte(sampleLog), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	out := filepath.Join(watchDir, "edited_site.csv")
	for {
		if _, err := os.Stat(out); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("output %s never appeared", out)
		}
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done
	stopped = true
	if len(w.timers) != 0 {
		t.Fatalf("settled timers kept: %d", len(w.timers))
	}
}
