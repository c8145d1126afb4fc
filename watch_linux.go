//go:build linux

package videoshm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WaitForProducer blocks until the channel's segment exists or the
// context is done. It watches the shared-memory directory instead of
// polling, so a consumer process can start before its producer and
// attach the moment the segment appears.
func WaitForProducer(ctx context.Context, cfg Config) error {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	target := shmPath(cfg.segmentName())

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	// The segment may already exist; check only after the watch is in
	// place so creation cannot slip between the check and the watch.
	if _, err := os.Stat(target); err == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if ev.Name == target && ev.Op.Has(fsnotify.Create) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			defaultLogger.Debug("segment watch error", "error", err)
		}
	}
}
