package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Loader loads operator-provided .rego policies from a directory and can
// watch it for changes.
type Loader struct {
	engine  *Engine
	dir     string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewLoader creates a loader feeding the given engine from dir.
func NewLoader(engine *Engine, dir string, logger zerolog.Logger) *Loader {
	return &Loader{
		engine: engine,
		dir:    dir,
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// Load reads every .rego file in the directory and replaces the engine's
// loaded policies. A missing directory is not an error: most hosts carry
// only the builtin policies.
func (l *Loader) Load(_ context.Context) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Debug().Str("dir", l.dir).Msg("no policy directory, using builtins only")
			return nil
		}
		return fmt.Errorf("failed to read policy directory %s: %w", l.dir, err)
	}

	var policies []Policy
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy %s: %w", path, err)
		}
		policies = append(policies, Policy{
			Name:    strings.TrimSuffix(entry.Name(), ".rego"),
			Rego:    string(src),
			Enabled: true,
		})
	}

	if err := l.engine.ReplaceLoaded(policies); err != nil {
		return err
	}

	l.logger.Info().Int("count", len(policies)).Str("dir", l.dir).Msg("policies loaded")
	return nil
}

// Watch reloads the policy directory whenever a .rego file is written or
// created, until the context is cancelled. Used by long-lived commands.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	if err := watcher.Add(l.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}

	go l.processEvents(ctx)

	l.logger.Info().Str("dir", l.dir).Msg("watching policy directory")
	return nil
}

func (l *Loader) processEvents(ctx context.Context) {
	var reloadTimer *time.Timer
	const reloadDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !strings.HasSuffix(event.Name, ".rego") {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("policy file changed")

			// Debounce bursts of events from editors and syncs.
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := l.Load(ctx); err != nil {
					l.logger.Error().Err(err).Msg("failed to reload policies")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("policy watcher error")
		}
	}
}
