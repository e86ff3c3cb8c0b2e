package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudconsole/livesync/internal/realtime"
	"github.com/cloudconsole/livesync/internal/storage"
	"github.com/cloudconsole/livesync/internal/wire"
)

var ErrNotConnected = errors.New("chat: push connection is not open")

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Sender is the outbound half of the push connection. Satisfied by
// realtime.Manager.
type Sender interface {
	State() realtime.State
	Send(ctx context.Context, payload []byte)
}

// Session holds one process's view of the conversation. The transcript is
// durable and shared; the greeting flag is process-local, so every fresh
// process greets once even when it resumes an existing transcript.
type Session struct {
	state  *storage.Store
	conn   Sender
	logger Logger

	identity   string
	sessionKey string
	epoch      string
	greeted    bool
	now        func() time.Time
}

func NewSession(state *storage.Store, conn Sender, logger Logger) *Session {
	return &Session{state: state, conn: conn, logger: logger, now: time.Now}
}

// Resume attaches the session to the durable conversation for epoch. A stored
// record with a matching epoch marker is restored; a mismatch (or no record)
// starts a fresh conversation under a new key, discarding the stale one.
func (s *Session) Resume(identity, epoch string) {
	identity = strings.TrimSpace(identity)
	if identity != s.identity {
		// The greeting is once per identity per process; a repeat resume of
		// the same identity must not re-arm it.
		s.greeted = false
	}
	s.identity = identity
	s.epoch = epoch

	restored := false
	err := s.state.Update(func(snap *storage.Snapshot) {
		record, ok := snap.Conversations[identity]
		if ok && record.EpochMarker == epoch && record.SessionKey != "" {
			s.sessionKey = record.SessionKey
			restored = true
			return
		}
		s.sessionKey = uuid.NewString()
		if snap.Conversations == nil {
			snap.Conversations = map[string]storage.ConversationRecord{}
		}
		snap.Conversations[identity] = storage.ConversationRecord{
			SessionKey:  s.sessionKey,
			EpochMarker: epoch,
		}
	})
	if err != nil {
		s.logf("persisting conversation resume: %v", err)
	}
	if restored {
		s.logf("resumed conversation %s", s.sessionKey)
	} else {
		s.logf("started conversation %s", s.sessionKey)
	}
}

// SessionKey returns the active conversation key.
func (s *Session) SessionKey() string { return s.sessionKey }

// Send transmits a user message. Messages are never queued: when the
// connection is not open the call fails with ErrNotConnected and the
// transcript is left untouched.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.conn.State() != realtime.StateOpen {
		return ErrNotConnected
	}
	payload, err := wire.ChatMessagePayload(text, s.sessionKey)
	if err != nil {
		return err
	}
	s.conn.Send(ctx, payload)
	s.appendMessage(storage.ChatMessage{Sender: SenderUser, Text: text, Timestamp: s.now()})
	return nil
}

// HandleResponse records an assistant reply. A greeting is shown at most once
// per process lifetime; repeats arriving on reconnect are dropped without
// touching the transcript.
func (s *Session) HandleResponse(response wire.ChatResponse) {
	if response.IsGreeting {
		if s.greeted {
			return
		}
		s.greeted = true
	}
	s.appendMessage(storage.ChatMessage{Sender: SenderAssistant, Text: response.Message, Timestamp: s.now()})
}

// History returns the durable transcript for the active conversation.
func (s *Session) History() []storage.ChatMessage {
	var out []storage.ChatMessage
	s.state.View(func(snap *storage.Snapshot) {
		if record, ok := snap.Conversations[s.identity]; ok && record.SessionKey == s.sessionKey {
			out = append([]storage.ChatMessage(nil), record.Messages...)
		}
	})
	return out
}

// Clear starts a fresh conversation: new key, empty transcript, greeting
// re-armed. The server is told to drop the old conversation when the
// connection is open; otherwise its copy ages out on its own.
func (s *Session) Clear(ctx context.Context) {
	oldKey := s.sessionKey
	s.sessionKey = uuid.NewString()
	s.greeted = false
	err := s.state.Update(func(snap *storage.Snapshot) {
		if snap.Conversations == nil {
			snap.Conversations = map[string]storage.ConversationRecord{}
		}
		snap.Conversations[s.identity] = storage.ConversationRecord{
			SessionKey:  s.sessionKey,
			EpochMarker: s.epoch,
		}
	})
	if err != nil {
		s.logf("persisting conversation clear: %v", err)
	}
	if oldKey != "" && s.conn.State() == realtime.StateOpen {
		if payload, err := wire.ClearConversationPayload(oldKey); err == nil {
			s.conn.Send(ctx, payload)
		}
	}
}

func (s *Session) appendMessage(message storage.ChatMessage) {
	err := s.state.Update(func(snap *storage.Snapshot) {
		record := snap.Conversations[s.identity]
		if record.SessionKey != s.sessionKey {
			// The transcript moved under us (another process cleared it);
			// do not resurrect the old conversation.
			return
		}
		record.Messages = append(record.Messages, message)
		snap.Conversations[s.identity] = record
	})
	if err != nil {
		s.logf("persisting chat message: %v", err)
	}
}

func (s *Session) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
