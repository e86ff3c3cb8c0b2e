package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestListNotificationsSendsAuthAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notifications" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok_1" {
			t.Errorf("unexpected auth header %q", got)
		}
		if r.Header.Get("X-Correlation-Id") == "" {
			t.Errorf("missing correlation id")
		}
		if r.URL.Query().Get("unread_only") != "true" {
			t.Errorf("missing unread_only query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"notifications": [
				{"id": "n_1", "title": "Ready", "message": "done", "is_read": false,
				 "created_at": "2026-01-02T03:04:05Z",
				 "deployment_details": {"instance_id": "i-1", "memory_size": 128, "versioning_enabled": false}}
			],
			"unread_count": 1,
			"total_count": 1
		}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok_1", nil)
	records, err := client.ListNotifications(context.Background(), true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != "n_1" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if records[0].DeploymentDetails["instance_id"] != "i-1" {
		t.Fatalf("deployment details not decoded: %+v", records[0])
	}
	if records[0].DeploymentDetails["memory_size"] != float64(128) || records[0].DeploymentDetails["versioning_enabled"] != false {
		t.Fatalf("mixed-type deployment details not decoded: %+v", records[0].DeploymentDetails)
	}
}

func TestParseTimestampAcceptsZonelessServerTimes(t *testing.T) {
	ts, ok := ParseTimestamp("2020-01-02T03:04:05.123456")
	if !ok {
		t.Fatalf("zone-less isoformat should parse")
	}
	if ts.Year() != 2020 || ts.Month() != 1 || ts.Second() != 5 {
		t.Fatalf("unexpected parsed time %v", ts)
	}
	if ts.Location() != time.UTC {
		t.Fatalf("zone-less timestamps are UTC, got %v", ts.Location())
	}

	if _, ok := ParseTimestamp("2026-01-02T03:04:05Z"); !ok {
		t.Fatalf("RFC 3339 should still parse")
	}
	if _, ok := ParseTimestamp("yesterday"); ok {
		t.Fatalf("garbage must not parse")
	}
}

func TestDoJSONRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"requests": [{"request_identifier": "req-1", "status": "pending"}]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", nil)
	client.baseDelay = 0
	records, err := client.ListRequests(context.Background())
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(records) != 1 || records[0].RequestIdentifier != "req-1" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestDoJSONReturnsTypedHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail": "Notification not found"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", nil)
	err := client.MarkRead(context.Background(), "missing")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusNotFound || httpErr.Message != "Notification not found" {
		t.Fatalf("unexpected error contents: %+v", httpErr)
	}
}

func TestClearRequestsUsesDelete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/user-requests" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", nil)
	if err := client.ClearRequests(context.Background()); err != nil {
		t.Fatalf("clear requests failed: %v", err)
	}
}
