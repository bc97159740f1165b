package pattern

import (
	"context"
	"errors"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/redactd/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher could not start.
var ErrWatcherFailed = errors.New("failed to initialize rules watcher")

// WatchRules reloads the detector's ruleset whenever the TOML file at
// path is rewritten. It blocks until ctx is cancelled. A reload that
// fails to parse keeps the previous ruleset.
func WatchRules(ctx context.Context, d *Detector, path string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watching rules file %s: %w", path, err)
	}

	logger.Info(ctx, "watching rules file", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			rules, err := LoadRules(path)
			if err != nil {
				logger.Error(ctx, "rules reload failed, keeping previous ruleset",
					zap.String("path", path),
					zap.Error(err),
				)
				continue
			}
			if err := d.Reload(rules); err != nil {
				logger.Error(ctx, "rules reload failed, keeping previous ruleset",
					zap.String("path", path),
					zap.Error(err),
				)
				continue
			}
			logger.Info(ctx, "rules reloaded",
				zap.String("path", path),
				zap.Int("rules", len(rules)),
			)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn(ctx, "rules watcher error", zap.Error(err))
		}
	}
}
