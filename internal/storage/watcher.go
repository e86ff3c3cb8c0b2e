package storage

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// ChangeWatcher reloads the store when another process rewrites the shared
// state file. It watches the parent directory because the file backend
// replaces the file by rename, which drops a watch placed on the file itself.
type ChangeWatcher struct {
	watcher *fsnotify.Watcher
	store   *Store
	path    string
	logger  Logger
	done    chan struct{}
}

// NewChangeWatcher starts watching the store's state file. Returns (nil, nil)
// when the store has no file-backed state to watch.
func NewChangeWatcher(store *Store, logger Logger) (*ChangeWatcher, error) {
	if store == nil {
		return nil, nil
	}
	path := store.StatePath()
	if path == "" {
		return nil, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	w := &ChangeWatcher{
		watcher: watcher,
		store:   store,
		path:    filepath.Clean(path),
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *ChangeWatcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Coalesce the write+rename pair the file backend produces.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case <-w.done:
				default:
					_ = w.store.Reload()
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logf("state watch error: %v", err)
		case <-w.done:
			return
		}
	}
}

func (w *ChangeWatcher) Close() error {
	if w == nil {
		return nil
	}
	close(w.done)
	return w.watcher.Close()
}

func (w *ChangeWatcher) logf(format string, args ...any) {
	if w == nil || w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
