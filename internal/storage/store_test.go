package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	backend := NewJSONFileStateBackend(path)

	missing, err := backend.Load()
	if err != nil {
		t.Fatalf("load missing state failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil snapshot before first save")
	}

	saved := newSnapshot()
	saved.Notifications = append(saved.Notifications, Notification{
		ID:        "n_1",
		Title:     "Infrastructure Ready",
		Message:   "Instance i-1 is running",
		Severity:  "success",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	})
	saved.ImportedIDs = []string{"n_1"}
	if err := backend.Save(saved); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded.Notifications) != 1 || loaded.Notifications[0].ID != "n_1" {
		t.Fatalf("unexpected notifications after reload: %+v", loaded.Notifications)
	}
	if len(loaded.ImportedIDs) != 1 || loaded.ImportedIDs[0] != "n_1" {
		t.Fatalf("unexpected imported ids: %v", loaded.ImportedIDs)
	}
}

func TestBuildStateBackendFromDSN(t *testing.T) {
	backend, err := BuildStateBackendFromDSN("", "")
	if err != nil || backend != nil {
		t.Fatalf("empty DSN should yield nil backend, got %v %v", backend, err)
	}

	backend, err = BuildStateBackendFromDSN(filepath.Join(t.TempDir(), "state.json"), "")
	if err != nil {
		t.Fatalf("bare path DSN failed: %v", err)
	}
	if _, ok := backend.(*JSONFileStateBackend); !ok {
		t.Fatalf("expected file backend, got %T", backend)
	}

	backend, err = BuildStateBackendFromDSN("memory://", "")
	if err != nil {
		t.Fatalf("memory DSN failed: %v", err)
	}
	if _, ok := backend.(*InMemoryStateBackend); !ok {
		t.Fatalf("expected in-memory backend, got %T", backend)
	}

	if _, err := BuildStateBackendFromDSN("sqlite:///tmp/x.db", ""); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for sqlite, got %v", err)
	}
	if _, err := BuildStateBackendFromDSN("ftp://host/state", ""); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestStoreUpdatePersistsAndNotifiesSubscribers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewStore(NewJSONFileStateBackend(path), nil)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	t.Cleanup(store.Close)

	notified := 0
	store.Subscribe(func() { notified++ })

	if err := store.Update(func(s *Snapshot) {
		s.Requests = append(s.Requests, RequestSummary{RequestID: "req-1", Status: "pending"})
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if notified != 1 {
		t.Fatalf("expected 1 change notification, got %d", notified)
	}

	reopened, err := NewStore(NewJSONFileStateBackend(path), nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(reopened.Close)
	var requests []RequestSummary
	reopened.View(func(s *Snapshot) { requests = append(requests, s.Requests...) })
	if len(requests) != 1 || requests[0].RequestID != "req-1" {
		t.Fatalf("persisted requests not visible after reopen: %+v", requests)
	}
}

func TestStoreReloadAbsorbsExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	backend := NewJSONFileStateBackend(path)
	store, err := NewStore(backend, nil)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	t.Cleanup(store.Close)

	external := newSnapshot()
	external.Prefs.SoundOnDelivery = true
	if err := backend.Save(external); err != nil {
		t.Fatalf("external save failed: %v", err)
	}

	if err := store.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	var prefs Preferences
	store.View(func(s *Snapshot) { prefs = s.Prefs })
	if !prefs.SoundOnDelivery {
		t.Fatalf("expected reloaded prefs to reflect external write")
	}
}
