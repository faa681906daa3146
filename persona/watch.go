package persona

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads the persona whenever its source file is written, until ctx
// is done. The parent directory is watched so editors that replace the file
// by rename are picked up too.
func (p *Persona) Watch(ctx context.Context) error {
	if p.path == "" {
		return ErrNoSource
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("persona watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Warn("persona watcher close", slog.Any("err", err))
		}
	}()

	target := filepath.Clean(p.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	slog.Info("persona watch started", slog.String("path", target))

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("persona watcher error", slog.Any("err", err))
		case <-pending:
			pending = nil
			if err := p.Reload(); err != nil {
				slog.Warn("persona reload after change failed; keeping previous traits", slog.Any("err", err))
			}
		}
	}
}
