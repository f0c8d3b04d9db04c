package tokenfile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/office365-go/internal/graph"
)

// Watch calls onChange with the file's credentials every time the token file
// at path is replaced or rewritten, e.g. by a `token import` in another
// process. It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself because Save
// replaces the file by rename, which drops a watch held on the old inode.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(graph.Credentials)) error {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tokenfile: creating watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("tokenfile: watching %s: %w", filepath.Dir(target), err)
	}

	logger.Debug("watching token file", slog.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}

			creds, _, loadErr := Load(target)
			if loadErr != nil {
				// Editors other than Save may leave it briefly unreadable.
				logger.Warn("token file changed but could not be read",
					slog.String("path", target),
					slog.String("error", loadErr.Error()),
				)

				continue
			}

			logger.Info("token file changed, reloading credentials", slog.String("path", target))
			onChange(creds)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("token file watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
