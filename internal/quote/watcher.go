package quote

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// RestoreWatcher watches a drop directory and restores any backup file
// written into it. Operators dump an exported backup into the directory to
// reseed a deployment without touching the UI.
type RestoreWatcher struct {
	dir    string
	orch   *Orchestrator
	logger Logger
}

func NewRestoreWatcher(dir string, orch *Orchestrator, logger Logger) (*RestoreWatcher, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" || orch == nil {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &RestoreWatcher{dir: dir, orch: orch, logger: logger}, nil
}

// Run blocks until ctx is done, restoring backup files as they appear.
func (w *RestoreWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			w.processFile(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logf("restore watcher error: %v", err)
		}
	}
}

// processFile restores one dropped backup file. Bad files are logged and
// skipped; a processed file is renamed so rewrite events do not restore it
// twice.
func (w *RestoreWatcher) processFile(path string) {
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		return
	}
	if strings.HasSuffix(path, ".restored.json") {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		w.logf("restore drop %s unreadable: %v", path, err)
		return
	}
	if err := w.orch.Restore(data); err != nil {
		w.logf("restore drop %s rejected: %v", path, err)
		return
	}
	renamed := strings.TrimSuffix(path, ".json") + ".restored.json"
	if err := os.Rename(path, renamed); err != nil {
		w.logf("restore drop %s: rename failed: %v", path, err)
	}
	w.logf("restored backup from %s", path)
}

func (w *RestoreWatcher) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
