package storage

import (
	"sync"
)

// Logger matches the stdlib log.Logger surface the packages in this module
// accept; a nil Logger silences output.
type Logger interface {
	Printf(format string, args ...any)
}

// Store is the single in-process view of one identity's durable state. The
// in-memory snapshot is a cache of the backend: local mutations go through
// Update, which persists before returning, and external mutations (another
// process writing the shared backend) are absorbed by Reload. Subscribers are
// told after either kind of change so they can re-derive their views.
type Store struct {
	mu       sync.RWMutex
	backend  StateBackend
	snapshot *Snapshot
	logger   Logger

	subMu       sync.Mutex
	subscribers []func()
}

func NewStore(backend StateBackend, logger Logger) (*Store, error) {
	s := &Store{backend: backend, logger: logger}
	if backend != nil {
		loaded, err := backend.Load()
		if err != nil {
			return nil, err
		}
		if loaded != nil {
			loaded.normalize()
			s.snapshot = loaded
		}
	}
	if s.snapshot == nil {
		s.snapshot = newSnapshot()
	}
	return s, nil
}

// Subscribe registers a change callback. Callbacks run synchronously after a
// successful Update or Reload and must not call back into the store's
// mutating methods.
func (s *Store) Subscribe(fn func()) {
	if s == nil || fn == nil {
		return
	}
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subMu.Unlock()
}

// View runs fn with read access to the current snapshot. fn must not retain
// or mutate the snapshot.
func (s *Store) View(fn func(*Snapshot)) {
	if s == nil || fn == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.snapshot)
}

// Update runs fn against the snapshot, persists the result, then notifies
// subscribers. The snapshot mutation is kept even if persistence fails;
// durable state is best-effort and the next successful Update rewrites it
// whole.
func (s *Store) Update(fn func(*Snapshot)) error {
	if s == nil || fn == nil {
		return nil
	}
	s.mu.Lock()
	fn(s.snapshot)
	s.snapshot.normalize()
	var err error
	if s.backend != nil {
		err = s.backend.Save(s.snapshot)
	}
	s.mu.Unlock()
	if err != nil {
		s.logf("state save failed: %v", err)
	}
	s.notify()
	return err
}

// Reload replaces the in-memory snapshot from the backend. Used when the
// change watcher reports that another process wrote the shared state.
func (s *Store) Reload() error {
	if s == nil || s.backend == nil {
		return nil
	}
	loaded, err := s.backend.Load()
	if err != nil {
		s.logf("state reload failed: %v", err)
		return err
	}
	if loaded == nil {
		loaded = newSnapshot()
	}
	loaded.normalize()
	s.mu.Lock()
	s.snapshot = loaded
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store) Close() {
	if s == nil {
		return
	}
	if closer, ok := s.backend.(stateBackendCloser); ok && closer != nil {
		_ = closer.Close()
	}
}

// StatePath reports the local file backing this store, or "" when the
// backend is not file-based.
func (s *Store) StatePath() string {
	if s == nil {
		return ""
	}
	if pather, ok := s.backend.(stateBackendPather); ok {
		return pather.StatePath()
	}
	return ""
}

func (s *Store) notify() {
	s.subMu.Lock()
	subscribers := append([]func(){}, s.subscribers...)
	s.subMu.Unlock()
	for _, fn := range subscribers {
		fn()
	}
}

func (s *Store) logf(format string, args ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
