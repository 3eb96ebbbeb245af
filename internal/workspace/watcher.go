package workspace

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the storage root for changes made outside the server,
// evicting stale cache entries and coalescing change signals for file-list
// refresh broadcasts.
type Watcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	events  chan struct{}
	stop    chan struct{}
	once    sync.Once
}

// Watch starts a recursive watcher over the store's root. The returned
// Watcher's Events channel carries coalesced change hints; closing the
// Watcher stops the goroutine.
func (s *Store) Watch() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("workspace: create watcher: %w", err)
	}
	err = filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(p)
		}
		return nil
	})
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("workspace: watch root: %w", err)
	}
	w := &Watcher{
		store:   s,
		watcher: fw,
		events:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Events carries one signal per batch of observed changes. Receivers that lag
// see a single coalesced signal.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	w.once.Do(func() {
		close(w.stop)
		w.watcher.Close()
	})
	return nil
}

func (w *Watcher) run() {
	defer close(w.events)
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if rel, err := filepath.Rel(w.store.root, ev.Name); err == nil {
				w.store.Evict(filepath.ToSlash(rel))
			}
			if ev.Op.Has(fsnotify.Create) {
				// New directories must be added for recursive coverage.
				_ = w.watcher.Add(ev.Name)
			}
			w.signal()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.signal()
		}
	}
}

func (w *Watcher) signal() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
