package requests

import (
	"context"
	"strings"
	"time"

	"github.com/cloudconsole/livesync/internal/api"
	"github.com/cloudconsole/livesync/internal/storage"
	"github.com/cloudconsole/livesync/internal/wire"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Delta is a partial update for one infrastructure request. Zero-valued
// fields are "not specified" and leave the stored value alone.
type Delta struct {
	RequestID string
	Status    string
	Resources map[string]string
}

// Cache keeps the durable view of the user's infrastructure requests in sync
// with both the push channel (deltas) and the full server snapshot.
type Cache struct {
	state  *storage.Store
	remote api.Client
	logger Logger
}

func NewCache(state *storage.Store, remote api.Client, logger Logger) *Cache {
	return &Cache{state: state, remote: remote, logger: logger}
}

// ApplyDelta merges a partial update into the stored request. Specified
// fields win over stored ones; unspecified fields are preserved. An unknown
// request id is inserted as a new entry at the head of the list. Applying the
// same delta twice is a no-op.
func (c *Cache) ApplyDelta(delta Delta) {
	delta.RequestID = strings.TrimSpace(delta.RequestID)
	if delta.RequestID == "" {
		return
	}
	err := c.state.Update(func(snap *storage.Snapshot) {
		for i := range snap.Requests {
			if snap.Requests[i].RequestID != delta.RequestID {
				continue
			}
			if delta.Status != "" {
				snap.Requests[i].Status = delta.Status
			}
			if delta.Resources != nil {
				if snap.Requests[i].Resources == nil {
					snap.Requests[i].Resources = map[string]string{}
				}
				for key, value := range delta.Resources {
					snap.Requests[i].Resources[key] = value
				}
			}
			return
		}
		entry := storage.RequestSummary{
			RequestID: delta.RequestID,
			Status:    delta.Status,
			CreatedAt: time.Now(),
		}
		if delta.Resources != nil {
			entry.Resources = map[string]string{}
			for key, value := range delta.Resources {
				entry.Resources[key] = value
			}
		}
		snap.Requests = append([]storage.RequestSummary{entry}, snap.Requests...)
	})
	if err != nil {
		c.logf("persisting request delta: %v", err)
	}
}

// FullRefresh replaces the cached list with the server's snapshot. On fetch
// failure the durable list keeps serving and the error is returned; the view
// is never blanked by a transient outage.
func (c *Cache) FullRefresh(ctx context.Context) error {
	records, err := c.remote.ListRequests(ctx)
	if err != nil {
		c.logf("request refresh failed: %v", err)
		return err
	}
	summaries := make([]storage.RequestSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, recordToSummary(record))
	}
	updateErr := c.state.Update(func(snap *storage.Snapshot) {
		snap.Requests = summaries
	})
	if updateErr != nil {
		c.logf("persisting request refresh: %v", updateErr)
	}
	return nil
}

// Requests returns the durable view, newest first.
func (c *Cache) Requests() []storage.RequestSummary {
	var out []storage.RequestSummary
	c.state.View(func(snap *storage.Snapshot) {
		out = append([]storage.RequestSummary(nil), snap.Requests...)
	})
	return out
}

// Clear empties the local list immediately and asks the server to forget the
// user's requests in the background. A failed remote delete is logged; the
// next full refresh restores whatever the server still has.
func (c *Cache) Clear(ctx context.Context) {
	err := c.state.Update(func(snap *storage.Snapshot) {
		snap.Requests = nil
	})
	if err != nil {
		c.logf("persisting request clear: %v", err)
	}
	if c.remote != nil {
		go func() {
			if err := c.remote.ClearRequests(ctx); err != nil {
				c.logf("remote request clear: %v", err)
			}
		}()
	}
}

func recordToSummary(record api.RequestRecord) storage.RequestSummary {
	createdAt, ok := api.ParseTimestamp(record.CreatedAt)
	if !ok {
		createdAt = time.Now()
	}
	return storage.RequestSummary{
		RequestID:     record.RequestIdentifier,
		CloudProvider: record.CloudProvider,
		Environment:   record.Environment,
		ResourceType:  record.ResourceType,
		Status:        record.Status,
		CreatedAt:     createdAt,
		Resources:     wire.StringValues(record.Resources),
	}
}

func (c *Cache) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
