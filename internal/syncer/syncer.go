// Package syncer runs the periodic background reconcile that picks up
// edits made outside the server. A filesystem watcher nudges an early
// sync so external edits surface before the next tick.
package syncer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vibemcp/vibemcp/internal/errors"
	"github.com/vibemcp/vibemcp/internal/index"
)

// debounceDelay batches bursts of filesystem events into one sync.
const debounceDelay = 500 * time.Millisecond

// Syncer owns one long-lived background task calling Indexer.Sync at a
// fixed interval.
type Syncer struct {
	indexer  *index.Indexer
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	watcher *fsnotify.Watcher
}

// New creates a syncer. interval must be positive.
func New(ix *index.Indexer, interval time.Duration, logger *slog.Logger) (*Syncer, error) {
	if interval <= 0 {
		return nil, errors.Newf(errors.KindFatalInit, "sync interval must be positive, got %s", interval)
	}
	return &Syncer{
		indexer:  ix,
		interval: interval,
		logger:   logger,
	}, nil
}

// Start spawns the sync loop. Calling Start while running is a no-op.
func (s *Syncer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.logger.Warn("sync loop already running")
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// The interval tick still covers external edits.
		watcher = nil
		s.logger.Warn("filesystem watcher unavailable", slog.String("error", err.Error()))
	} else {
		s.watcher = watcher
		s.addWatches(watcher)
	}

	go s.loop(watcher, s.stop, s.done)
	s.logger.Info("sync loop started", slog.Duration("interval", s.interval))
}

// Stop signals the loop and waits up to interval + 1s for it to exit.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}

	close(s.stop)
	select {
	case <-s.done:
		s.logger.Info("sync loop stopped")
	case <-time.After(s.interval + time.Second):
		s.logger.Warn("sync loop did not stop cleanly")
	}

	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
	s.stop = nil
	s.done = nil
}

func (s *Syncer) loop(watcher *fsnotify.Watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var watchErrs chan error
	if watcher != nil {
		events = watcher.Events
		watchErrs = watcher.Errors
	}

	var debounce <-chan time.Time

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.runSync(watcher)
		case <-debounce:
			debounce = nil
			s.runSync(watcher)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if relevant(ev) {
				debounce = time.After(debounceDelay)
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			s.logger.Warn("filesystem watcher error", slog.String("error", err.Error()))
		}
	}
}

// runSync calls Indexer.Sync once; a transient error is logged and the
// loop continues.
func (s *Syncer) runSync(watcher *fsnotify.Watcher) {
	added, updated, deleted, err := s.indexer.Sync(context.Background())
	if err != nil {
		s.logger.Error("background sync failed", slog.String("error", err.Error()))
		return
	}
	if added+updated+deleted > 0 {
		s.logger.Info("auto-sync",
			slog.Int("added", added),
			slog.Int("updated", updated),
			slog.Int("deleted", deleted))
	}
	s.addWatches(watcher)
}

// addWatches (re)registers the root and its project directories. New
// subdirectories show up after the next sync pass.
func (s *Syncer) addWatches(watcher *fsnotify.Watcher) {
	if watcher == nil {
		return
	}

	root := s.indexer.Root()
	if err := watcher.Add(root); err != nil {
		s.logger.Debug("cannot watch root", slog.String("error", err.Error()))
		return
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		projectDir := filepath.Join(root, entry.Name())
		_ = watcher.Add(projectDir)
		subdirs, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, sub := range subdirs {
			if sub.IsDir() && sub.Name()[0] != '.' {
				_ = watcher.Add(filepath.Join(projectDir, sub.Name()))
			}
		}
	}
}

// relevant filters watcher noise down to events that can change the
// index.
func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	if base == "" || base[0] == '.' {
		return false
	}
	// Directory events matter for new folders; file events only for
	// markdown.
	return filepath.Ext(base) == ".md" || filepath.Ext(base) == ""
}
