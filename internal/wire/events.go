package wire

import "time"

// Kind discriminates inbound push events. The set is closed: anything the
// decoder does not recognize becomes KindUnrecognized and is dropped by the
// router instead of failing the connection.
type Kind string

const (
	KindConnectionReady Kind = "connection_ready"
	KindChatResponse    Kind = "chat_response"
	KindPopup           Kind = "popup_notification"
	KindBell            Kind = "notification"
	KindApproval        Kind = "approval_notification"
	KindRequestUpdate   Kind = "request_update"
	KindPong            Kind = "pong"
	KindUnrecognized    Kind = "unrecognized"
)

// Event is one decoded server push. Every event carries a message id: the
// server's explicit one when present, otherwise an id synthesized by the
// codec. Events are immutable once decoded.
type Event interface {
	Kind() Kind
	MessageID() string
}

// Meta carries the fields shared by all variants.
type Meta struct {
	ID        string
	Timestamp time.Time
}

func (m Meta) MessageID() string { return m.ID }

type ConnectionReady struct {
	Meta
}

func (ConnectionReady) Kind() Kind { return KindConnectionReady }

type Button struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

type ChatResponse struct {
	Meta
	Message       string
	Buttons       []Button
	ShowTextInput bool
	IsGreeting    bool
}

func (ChatResponse) Kind() Kind { return KindChatResponse }

// PopupNotification is transient: surfaced once, acknowledged with a
// popup_delivered payload, never stored.
type PopupNotification struct {
	Meta
	PopupID  string
	Title    string
	Message  string
	Severity string
	Duration time.Duration
}

func (PopupNotification) Kind() Kind { return KindPopup }

// BellNotification is persistent: merged into the notification store.
type BellNotification struct {
	Meta
	NotificationID string
	Title          string
	Message        string
	Severity       string
	Detail         map[string]string
}

func (BellNotification) Kind() Kind { return KindBell }

type ApprovalNotification struct {
	Meta
	Approved    bool
	Message     string
	Environment string
}

func (ApprovalNotification) Kind() Kind { return KindApproval }

type RequestUpdate struct {
	Meta
	RequestID string
	Status    string
	Resources map[string]string
}

func (RequestUpdate) Kind() Kind { return KindRequestUpdate }

type Pong struct {
	Meta
}

func (Pong) Kind() Kind { return KindPong }

// Unrecognized preserves the unknown discriminator for logging.
type Unrecognized struct {
	Meta
	Type string
}

func (Unrecognized) Kind() Kind { return KindUnrecognized }
