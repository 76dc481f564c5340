package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is the fallback re-read period used by Follow.
const DefaultPollInterval = 2 * time.Second

// Follow calls fn with the full log every time the file at path changes,
// and at least every poll interval. It blocks until ctx is done.
func Follow(ctx context.Context, path string, poll time.Duration, fn func([]Entry)) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("bridge: create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so a log created or replaced later is still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("bridge: watch %s: %w", filepath.Dir(path), err)
	}

	emit := func() error {
		entries, err := ReadAll(path)
		if err != nil {
			return err
		}
		fn(entries)
		return nil
	}
	if err := emit(); err != nil {
		return err
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	target := filepath.Clean(path)
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
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if err := emit(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("bridge: watch: %w", err)
		case <-ticker.C:
			if err := emit(); err != nil {
				return err
			}
		}
	}
}
