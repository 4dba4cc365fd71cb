package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// configDebounce coalesces the burst of events an editor save produces.
const configDebounce = 250 * time.Millisecond

// watchConfig calls onChange after the file at path is written, created,
// renamed or removed. The parent directory is watched because editors
// replace files by rename, which drops a watch on the file itself. Returns
// once the watch is established; watching stops when ctx is done.
func watchConfig(ctx context.Context, path string, debounce time.Duration, onChange func(), logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}

	target := filepath.Clean(path)

	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}

	logger.Debug("watching config file", slog.String("path", target))

	go runConfigWatch(ctx, w, target, debounce, onChange, logger)

	return nil
}

func runConfigWatch(
	ctx context.Context, w *fsnotify.Watcher, target string, debounce time.Duration,
	onChange func(), logger *slog.Logger,
) {
	defer w.Close()

	timer := time.NewTimer(debounce)
	timer.Stop()

	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}

			if filepath.Clean(ev.Name) != target || ev.Op == fsnotify.Chmod {
				continue
			}

			logger.Debug("config file event", slog.String("op", ev.Op.String()))
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}

			logger.Warn("config watcher error", slog.String("error", err.Error()))
		case <-timer.C:
			onChange()
		}
	}
}
