package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// PackWatcher hot-reloads domain packs when files in the packs directory
// change. Construction loads nothing; the engine's initial pack set comes
// from LoadWithFile/LoadPackDir. The watcher only refreshes a PackSource
// for long-lived embedders.
type PackWatcher struct {
	dir     string
	source  *PackSource
	watcher *fsnotify.Watcher
	stop    chan struct{}
	reloads chan string
}

// NewPackWatcher creates a watcher over dir that refreshes source.
func NewPackWatcher(dir string, source *PackSource) (*PackWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &PackWatcher{
		dir:     dir,
		source:  source,
		watcher: watcher,
		stop:    make(chan struct{}),
		reloads: make(chan string, 10),
	}, nil
}

// Start begins watching the packs directory. Reload notifications are
// delivered on Reloads(); call Stop to clean up.
func (w *PackWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching packs directory: %w", err)
	}

	go w.processEvents(ctx)

	return nil
}

// Stop stops the watcher and releases resources.
func (w *PackWatcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
}

// Reloads returns a channel that receives the name of each domain whose
// pack was reloaded. Consumers may ignore it; sends never block.
func (w *PackWatcher) Reloads() <-chan string {
	return w.reloads
}

// processEvents processes filesystem events and reloads packs.
func (w *PackWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.handlePackChange(event.Name)
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Keep watching; a transient error does not invalidate
			// the packs already loaded.
		}
	}
}

// handlePackChange re-parses a single changed pack file. Malformed
// content leaves the previous pack in place.
func (w *PackWatcher) handlePackChange(path string) {
	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".yml" {
		return
	}

	pack, err := loadPackFile(path)
	if err != nil {
		return
	}

	domain := filepath.Base(path)
	domain = domain[:len(domain)-len(ext)]
	w.source.Set(domain, pack)

	select {
	case w.reloads <- domain:
	default:
	}
}
