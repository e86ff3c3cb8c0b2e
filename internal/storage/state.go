package storage

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// Notification is a persistent bell notification as kept in durable state.
// The list is ordered newest-first and bounded by the notification store.
type Notification struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Severity  string            `json:"severity"`
	CreatedAt time.Time         `json:"createdAt"`
	Read      bool              `json:"read"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// RequestSummary is one row of the infrastructure-request dashboard cache,
// keyed by the stable request identifier.
type RequestSummary struct {
	RequestID     string            `json:"requestId"`
	CloudProvider string            `json:"cloudProvider,omitempty"`
	Environment   string            `json:"environment,omitempty"`
	ResourceType  string            `json:"resourceType,omitempty"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	Resources     map[string]string `json:"resources,omitempty"`
}

type ChatMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationRecord is the durable per-identity conversation state. It is
// only resumable while EpochMarker still matches the current login epoch.
type ConversationRecord struct {
	SessionKey  string        `json:"sessionKey"`
	Messages    []ChatMessage `json:"messages"`
	EpochMarker string        `json:"epochMarker"`
}

type Preferences struct {
	SoundOnDelivery bool `json:"soundOnDelivery"`
	RealtimeUpdates bool `json:"realtimeUpdates"`
}

// Snapshot is the full durable state for one identity. All mutations go
// through Store.Update, which persists the whole snapshot; concurrent
// processes sharing the same backend converge by re-reading it on a change
// broadcast rather than by locking.
type Snapshot struct {
	Notifications []Notification                `json:"notifications"`
	ImportedIDs   []string                      `json:"importedIds"`
	Requests      []RequestSummary              `json:"requests"`
	Conversations map[string]ConversationRecord `json:"conversations,omitempty"`
	Prefs         Preferences                   `json:"prefs"`
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Notifications: []Notification{},
		ImportedIDs:   []string{},
		Requests:      []RequestSummary{},
		Conversations: map[string]ConversationRecord{},
		Prefs:         Preferences{RealtimeUpdates: true},
	}
}

func (s *Snapshot) normalize() {
	if s.Notifications == nil {
		s.Notifications = []Notification{}
	}
	if s.ImportedIDs == nil {
		s.ImportedIDs = []string{}
	}
	if s.Requests == nil {
		s.Requests = []RequestSummary{}
	}
	if s.Conversations == nil {
		s.Conversations = map[string]ConversationRecord{}
	}
}
