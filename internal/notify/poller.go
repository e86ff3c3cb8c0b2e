package notify

import (
	"context"
	"time"

	"github.com/cloudconsole/livesync/internal/api"
	"github.com/cloudconsole/livesync/internal/storage"
	"github.com/cloudconsole/livesync/internal/wire"
)

const (
	defaultPollInterval = 30 * time.Second

	// checkpointRetention bounds the imported-ids checkpoint. Only the newest
	// ids matter: anything older has long since aged out of the server feed.
	checkpointRetention = 100
)

// Poller is the reconciliation loop: it periodically pulls the unread feed
// and merges anything the push channel missed. At most one popup is surfaced
// per cycle, for the newest recovered notification.
type Poller struct {
	store    *Store
	remote   api.Client
	interval time.Duration
	onPopup  func(storage.Notification)
	logger   Logger

	trigger chan struct{}
	done    chan struct{}
}

type PollerOptions struct {
	Interval time.Duration
	// OnPopup receives the single popup-worthy notification of a cycle, if any.
	OnPopup func(storage.Notification)
	Logger  Logger
}

func NewPoller(store *Store, remote api.Client, opts PollerOptions) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		store:    store,
		remote:   remote,
		interval: interval,
		onPopup:  opts.OnPopup,
		logger:   opts.Logger,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Stop is called. The first cycle runs
// immediately so a fresh login catches up without waiting a full interval.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.Reconcile(ctx)
		case <-p.trigger:
			p.Reconcile(ctx)
		}
	}
}

// TriggerNow requests an immediate cycle, coalescing with one already pending.
func (p *Poller) TriggerNow() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func (p *Poller) Stop() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

// Reconcile runs one catch-up cycle. A fetch failure leaves local state
// untouched; the durable snapshot keeps serving until the next cycle.
func (p *Poller) Reconcile(ctx context.Context) {
	records, err := p.remote.ListNotifications(ctx, true)
	if err != nil {
		p.logf("reconciliation fetch failed: %v", err)
		return
	}

	imported := map[string]struct{}{}
	p.store.state.View(func(snap *storage.Snapshot) {
		for _, id := range snap.ImportedIDs {
			imported[id] = struct{}{}
		}
	})

	var merged []storage.Notification
	for _, record := range records {
		if record.ID == "" {
			continue
		}
		if _, done := imported[record.ID]; done {
			continue
		}
		n := recordToNotification(record)
		if p.store.MergePoll(n) {
			merged = append(merged, n)
		}
		// A false merge means push already delivered it; checkpointing either
		// way keeps later cycles from re-comparing the same record.
		p.checkpoint(record.ID)
	}

	if len(merged) > 0 {
		p.logf("reconciliation recovered %d notification(s)", len(merged))
		if p.onPopup != nil {
			p.onPopup(newest(merged))
		}
	}
}

// checkpoint appends id to the imported set after a successful merge. Ids are
// never checkpointed ahead of the merge, so a crash mid-cycle re-imports
// rather than drops.
func (p *Poller) checkpoint(id string) {
	err := p.store.state.Update(func(snap *storage.Snapshot) {
		for _, have := range snap.ImportedIDs {
			if have == id {
				return
			}
		}
		snap.ImportedIDs = append(snap.ImportedIDs, id)
		if len(snap.ImportedIDs) > checkpointRetention {
			snap.ImportedIDs = snap.ImportedIDs[len(snap.ImportedIDs)-checkpointRetention:]
		}
	})
	if err != nil {
		p.logf("persisting checkpoint: %v", err)
	}
}

func newest(merged []storage.Notification) storage.Notification {
	top := merged[0]
	for _, n := range merged[1:] {
		if n.CreatedAt.After(top.CreatedAt) {
			top = n
		}
	}
	return top
}

func recordToNotification(record api.NotificationRecord) storage.Notification {
	createdAt, ok := api.ParseTimestamp(record.CreatedAt)
	if !ok {
		createdAt = time.Now()
	}
	severity := record.Status
	if severity == "" {
		severity = "info"
	}
	return storage.Notification{
		ID:        record.ID,
		Title:     record.Title,
		Message:   record.Message,
		Severity:  severity,
		CreatedAt: createdAt,
		Read:      record.IsRead,
		Detail:    wire.StringValues(record.DeploymentDetails),
	}
}

func (p *Poller) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
