package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher observes the staging directory and reports changed playbooks.
// It backs the dev command: edit a staged playbook locally and have it
// re-applied without a round trip through the object store.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher over the staging directory.
func NewWatcher(dir string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: 500 * time.Millisecond,
		logger:   logger.With().Str("component", "artifact-watcher").Logger(),
	}
}

// Watch reports changed .yml files on the returned channel until ctx is
// cancelled. Bursts of writes to the same file collapse into one event.
func (w *Watcher) Watch(ctx context.Context) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.watcher = watcher

	changes := make(chan string)
	go w.processEvents(ctx, changes)
	w.logger.Info().Str("dir", w.dir).Msg("Watching staged playbooks")
	return changes, nil
}

func (w *Watcher) processEvents(ctx context.Context, changes chan<- string) {
	defer close(changes)
	defer func() { _ = w.watcher.Close() }()

	pending := map[string]*time.Timer{}
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".yml") {
				continue
			}
			name := filepath.Clean(event.Name)
			if t, ok := pending[name]; ok {
				t.Stop()
			}
			pending[name] = time.AfterFunc(w.debounce, func() {
				select {
				case changes <- name:
					w.logger.Debug().Str("file", name).Msg("Staged playbook changed")
				case <-ctx.Done():
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}
