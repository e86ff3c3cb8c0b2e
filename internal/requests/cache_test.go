package requests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudconsole/livesync/internal/api"
	"github.com/cloudconsole/livesync/internal/storage"
)

type fakeClient struct {
	mu       sync.Mutex
	requests []api.RequestRecord
	listErr  error
	cleared  int
}

func (c *fakeClient) ListNotifications(ctx context.Context, unreadOnly bool) ([]api.NotificationRecord, error) {
	return nil, nil
}

func (c *fakeClient) MarkRead(ctx context.Context, id string) error { return nil }
func (c *fakeClient) MarkAllRead(ctx context.Context) error         { return nil }
func (c *fakeClient) ClearNotifications(ctx context.Context) error  { return nil }

func (c *fakeClient) ListRequests(ctx context.Context) ([]api.RequestRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	return append([]api.RequestRecord(nil), c.requests...), nil
}

func (c *fakeClient) ClearRequests(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared++
	return nil
}

func newTestCache(t *testing.T, remote api.Client) *Cache {
	t.Helper()
	state, err := storage.NewStore(storage.NewInMemoryStateBackend(), nil)
	if err != nil {
		t.Fatalf("building state store: %v", err)
	}
	t.Cleanup(state.Close)
	return NewCache(state, remote, nil)
}

func TestApplyDeltaMergesSpecifiedFieldsOnly(t *testing.T) {
	cache := newTestCache(t, nil)
	_ = cache.state.Update(func(snap *storage.Snapshot) {
		snap.Requests = []storage.RequestSummary{{
			RequestID:     "req-1",
			CloudProvider: "aws",
			Environment:   "staging",
			ResourceType:  "bucket",
			Status:        "pending",
			CreatedAt:     time.Now(),
		}}
	})

	cache.ApplyDelta(Delta{
		RequestID: "req-1",
		Status:    "deployed",
		Resources: map[string]string{"bucket_name": "assets-staging"},
	})

	stored := cache.Requests()
	if len(stored) != 1 {
		t.Fatalf("delta must merge in place, got %d entries", len(stored))
	}
	got := stored[0]
	if got.Status != "deployed" {
		t.Fatalf("status should take the delta value, got %q", got.Status)
	}
	if got.CloudProvider != "aws" || got.Environment != "staging" || got.ResourceType != "bucket" {
		t.Fatalf("unspecified fields must be preserved, got %+v", got)
	}
	if got.Resources["bucket_name"] != "assets-staging" {
		t.Fatalf("resources not merged: %+v", got.Resources)
	}
}

func TestApplyDeltaIsIdempotent(t *testing.T) {
	cache := newTestCache(t, nil)
	delta := Delta{RequestID: "req-1", Status: "deployed", Resources: map[string]string{"arn": "arn:aws:s3:::x"}}

	cache.ApplyDelta(delta)
	cache.ApplyDelta(delta)

	stored := cache.Requests()
	if len(stored) != 1 {
		t.Fatalf("repeated delta must not duplicate, got %d entries", len(stored))
	}
	if stored[0].Status != "deployed" || stored[0].Resources["arn"] != "arn:aws:s3:::x" {
		t.Fatalf("unexpected merged entry: %+v", stored[0])
	}
}

func TestApplyDeltaInsertsUnknownRequestAtHead(t *testing.T) {
	cache := newTestCache(t, nil)
	cache.ApplyDelta(Delta{RequestID: "req-1", Status: "pending"})
	cache.ApplyDelta(Delta{RequestID: "req-2", Status: "provisioning"})

	stored := cache.Requests()
	if len(stored) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(stored))
	}
	if stored[0].RequestID != "req-2" {
		t.Fatalf("newest request should lead the list, got %s", stored[0].RequestID)
	}
}

func TestFullRefreshReplacesCachedList(t *testing.T) {
	client := &fakeClient{
		requests: []api.RequestRecord{{
			RequestIdentifier: "req-9",
			CloudProvider:     "gcp",
			Status:            "deployed",
			CreatedAt:         "2020-06-01T12:00:00.500000",
			Resources:         map[string]any{"instance": "vm-1", "memory_size": float64(128), "public_access": false},
		}},
	}
	cache := newTestCache(t, client)
	cache.ApplyDelta(Delta{RequestID: "req-stale", Status: "pending"})

	if err := cache.FullRefresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	stored := cache.Requests()
	if len(stored) != 1 || stored[0].RequestID != "req-9" {
		t.Fatalf("refresh must replace the list with the server snapshot, got %+v", stored)
	}
	if stored[0].CreatedAt.Year() != 2020 {
		t.Fatalf("zone-less server timestamp not preserved: %v", stored[0].CreatedAt)
	}
	if stored[0].Resources["memory_size"] != "128" || stored[0].Resources["public_access"] != "false" {
		t.Fatalf("mixed-type resources not flattened: %v", stored[0].Resources)
	}
}

func TestFullRefreshFailureKeepsDurableSnapshot(t *testing.T) {
	client := &fakeClient{listErr: errors.New("bad gateway")}
	cache := newTestCache(t, client)
	cache.ApplyDelta(Delta{RequestID: "req-1", Status: "pending"})

	if err := cache.FullRefresh(context.Background()); err == nil {
		t.Fatalf("expected the fetch error to surface")
	}
	if stored := cache.Requests(); len(stored) != 1 {
		t.Fatalf("a failed refresh must not blank the view, got %d entries", len(stored))
	}
}

func TestClearEmptiesLocallyAndNotifiesServer(t *testing.T) {
	client := &fakeClient{}
	cache := newTestCache(t, client)
	cache.ApplyDelta(Delta{RequestID: "req-1", Status: "pending"})

	cache.Clear(context.Background())

	if stored := cache.Requests(); len(stored) != 0 {
		t.Fatalf("clear must empty the local list, got %d entries", len(stored))
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		client.mu.Lock()
		cleared := client.cleared
		client.mu.Unlock()
		if cleared == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("server-side clear was never issued")
}
