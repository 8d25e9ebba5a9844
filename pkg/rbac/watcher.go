package rbac

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

// PolicyLoader produces a validated policy, typically from a file
type PolicyLoader func() (*Policy, error)

// PolicyWatcher reloads the evaluator's policy when the policy file changes.
// A file that fails to load is logged and the previous policy stays active.
type PolicyWatcher struct {
	path      string
	load      PolicyLoader
	evaluator *Evaluator
	logger    *observability.Logger
}

// NewPolicyWatcher creates a watcher for path
func NewPolicyWatcher(path string, load PolicyLoader, evaluator *Evaluator, logger *observability.Logger) *PolicyWatcher {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &PolicyWatcher{path: path, load: load, evaluator: evaluator, logger: logger}
}

// Run watches until ctx is cancelled. The parent directory is watched
// because editors usually replace files rather than write in place.
func (w *PolicyWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.Reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("policy watcher error")
		}
	}
}

// Reload loads the policy once and swaps it in if valid
func (w *PolicyWatcher) Reload() bool {
	policy, err := w.load()
	if err == nil {
		err = w.evaluator.SetPolicy(policy)
	}
	if err != nil {
		w.logger.WithError(err).WithField("path", w.path).Error("ignoring invalid policy file")
		return false
	}

	w.logger.WithField("path", w.path).Info("policy reloaded")
	return true
}
