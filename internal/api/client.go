package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// NotificationRecord is a server-side notification as returned by the
// catch-up endpoint, before conversion into durable local state.
type NotificationRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Status  string `json:"status"`
	// DeploymentDetails carries mixed-type values (strings, booleans,
	// numbers) as stored server-side.
	DeploymentDetails map[string]any `json:"deployment_details"`
	IsRead            bool           `json:"is_read"`
	CreatedAt         string         `json:"created_at"`
}

type notificationFeed struct {
	Notifications []NotificationRecord `json:"notifications"`
	UnreadCount   int                  `json:"unread_count"`
	TotalCount    int                  `json:"total_count"`
}

// RequestRecord is one infrastructure request in the server's full snapshot.
type RequestRecord struct {
	RequestIdentifier string         `json:"request_identifier"`
	CloudProvider     string         `json:"cloud_provider"`
	Environment       string         `json:"environment"`
	ResourceType      string         `json:"resource_type"`
	Status            string         `json:"status"`
	CreatedAt         string         `json:"created_at"`
	Resources         map[string]any `json:"resources"`
}

// timestampLayouts covers both RFC 3339 and the zone-less isoformat the
// server writes for its UTC datetimes.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp reads a server created_at value. Zone-less timestamps are
// taken as UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

type requestFeed struct {
	Requests []RequestRecord `json:"requests"`
}

// Client is the pull-side counterpart of the push channel. All methods are
// independent of the websocket connection's state.
type Client interface {
	ListNotifications(ctx context.Context, unreadOnly bool) ([]NotificationRecord, error)
	MarkRead(ctx context.Context, notificationID string) error
	MarkAllRead(ctx context.Context) error
	ClearNotifications(ctx context.Context) error
	ListRequests(ctx context.Context) ([]RequestRecord, error)
	ClearRequests(ctx context.Context) error
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) ListNotifications(ctx context.Context, unreadOnly bool) ([]NotificationRecord, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread_only", "true")
	}
	path := "/api/notifications"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out notificationFeed
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

func (c *HTTPClient) MarkRead(ctx context.Context, notificationID string) error {
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/notifications/%s/read", url.PathEscape(notificationID)), nil, nil)
}

func (c *HTTPClient) MarkAllRead(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/notifications/mark-all-read", nil, nil)
}

func (c *HTTPClient) ClearNotifications(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/notifications/clear-all", nil, nil)
}

func (c *HTTPClient) ListRequests(ctx context.Context) ([]RequestRecord, error) {
	var out requestFeed
	if err := c.doJSON(ctx, http.MethodGet, "/api/infrastructure/requests", nil, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

func (c *HTTPClient) ClearRequests(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/user-requests", nil, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("X-Correlation-Id", "client_"+uuid.NewString())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		message := errPayload.Message
		if message == "" {
			message = errPayload.Detail
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    message,
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
