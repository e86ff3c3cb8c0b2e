package notify

import (
	"context"
	"strings"
	"time"

	"github.com/cloudconsole/livesync/internal/api"
	"github.com/cloudconsole/livesync/internal/storage"
)

const (
	// pushRetention bounds the list after a push merge; pollRetention after a
	// reconciliation merge. Poll keeps more because it is the catch-up path.
	pushRetention = 15
	pollRetention = 20

	// pushDupWindow and pollDupWindow bound the title+message duplicate check:
	// two unidentified notifications with identical text inside the window are
	// the same event delivered twice.
	pushDupWindow = 10 * time.Second
	pollDupWindow = 30 * time.Second
)

type Logger interface {
	Printf(format string, args ...any)
}

// Store merges notifications from both delivery paths into durable state.
// Merges are idempotent: the same notification applied through push, poll, or
// both in either order yields one stored entry.
type Store struct {
	state  *storage.Store
	remote api.Client
	logger Logger
	now    func() time.Time
}

func NewStore(state *storage.Store, remote api.Client, logger Logger) *Store {
	return &Store{state: state, remote: remote, logger: logger, now: time.Now}
}

// MergePush inserts a notification delivered over the push channel.
// It reports whether the notification was new.
func (s *Store) MergePush(n storage.Notification) bool {
	return s.merge(n, pushDupWindow, pushRetention)
}

// MergePoll inserts a notification recovered by reconciliation.
func (s *Store) MergePoll(n storage.Notification) bool {
	return s.merge(n, pollDupWindow, pollRetention)
}

func (s *Store) merge(n storage.Notification, window time.Duration, retention int) bool {
	n.ID = strings.TrimSpace(n.ID)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	added := false
	err := s.state.Update(func(snap *storage.Snapshot) {
		if isDuplicate(snap.Notifications, n, window) {
			return
		}
		snap.Notifications = append([]storage.Notification{n}, snap.Notifications...)
		if len(snap.Notifications) > retention {
			snap.Notifications = snap.Notifications[:retention]
		}
		added = true
	})
	if err != nil {
		s.logf("persisting notification merge: %v", err)
	}
	return added
}

// isDuplicate treats two notifications as the same event when their ids match,
// or when both texts match and the timestamps fall inside the window. The text
// check covers servers that deliver the same event without a stable id.
func isDuplicate(existing []storage.Notification, n storage.Notification, window time.Duration) bool {
	for _, have := range existing {
		if n.ID != "" && have.ID == n.ID {
			return true
		}
		if have.Title == n.Title && have.Message == n.Message {
			delta := n.CreatedAt.Sub(have.CreatedAt)
			if delta < 0 {
				delta = -delta
			}
			if delta <= window {
				return true
			}
		}
	}
	return false
}

// UnreadCount is always derived from the stored list, never tracked apart
// from it.
func (s *Store) UnreadCount() int {
	count := 0
	s.state.View(func(snap *storage.Snapshot) {
		for _, n := range snap.Notifications {
			if !n.Read {
				count++
			}
		}
	})
	return count
}

func (s *Store) Notifications() []storage.Notification {
	var out []storage.Notification
	s.state.View(func(snap *storage.Snapshot) {
		out = append([]storage.Notification(nil), snap.Notifications...)
	})
	return out
}

// MarkRead flips the local entry first, then acknowledges the server in the
// background. A failed acknowledgement is logged and not rolled back; the next
// reconciliation settles any disagreement.
func (s *Store) MarkRead(ctx context.Context, id string) {
	changed := false
	err := s.state.Update(func(snap *storage.Snapshot) {
		for i := range snap.Notifications {
			if snap.Notifications[i].ID == id && !snap.Notifications[i].Read {
				snap.Notifications[i].Read = true
				changed = true
			}
		}
	})
	if err != nil {
		s.logf("persisting mark-read: %v", err)
	}
	if changed && s.remote != nil {
		go func() {
			if err := s.remote.MarkRead(ctx, id); err != nil {
				s.logf("remote mark-read %s: %v", id, err)
			}
		}()
	}
}

func (s *Store) MarkAllRead(ctx context.Context) {
	changed := false
	err := s.state.Update(func(snap *storage.Snapshot) {
		for i := range snap.Notifications {
			if !snap.Notifications[i].Read {
				snap.Notifications[i].Read = true
				changed = true
			}
		}
	})
	if err != nil {
		s.logf("persisting mark-all-read: %v", err)
	}
	if changed && s.remote != nil {
		go func() {
			if err := s.remote.MarkAllRead(ctx); err != nil {
				s.logf("remote mark-all-read: %v", err)
			}
		}()
	}
}

// ClearAll empties the list and drops the reconciliation checkpoint with it,
// so cleared server-side notifications are not silently resurrected as "new"
// by a stale imported-ids set.
func (s *Store) ClearAll(ctx context.Context) {
	err := s.state.Update(func(snap *storage.Snapshot) {
		snap.Notifications = nil
		snap.ImportedIDs = nil
	})
	if err != nil {
		s.logf("persisting clear-all: %v", err)
	}
	if s.remote != nil {
		go func() {
			if err := s.remote.ClearNotifications(ctx); err != nil {
				s.logf("remote clear-all: %v", err)
			}
		}()
	}
}

func (s *Store) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
