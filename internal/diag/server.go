package diag

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cloudconsole/livesync/internal/chat"
	"github.com/cloudconsole/livesync/internal/notify"
	"github.com/cloudconsole/livesync/internal/realtime"
	"github.com/cloudconsole/livesync/internal/requests"
	"github.com/cloudconsole/livesync/internal/storage"
)

// Server is the local diagnostics surface: a read-only view of connection
// state and cached counts, plus a trigger for an immediate reconciliation.
// It binds to loopback and carries no authentication.
type Server struct {
	conn      *realtime.Manager
	notify    *notify.Store
	requests  *requests.Cache
	session   *chat.Session
	state     *storage.Store
	poller    *notify.Poller
	startedAt time.Time
}

func NewServer(conn *realtime.Manager, notifyStore *notify.Store, requestCache *requests.Cache, session *chat.Session, state *storage.Store, poller *notify.Poller) *Server {
	return &Server{
		conn:      conn,
		notify:    notifyStore,
		requests:  requestCache,
		session:   session,
		state:     state,
		poller:    poller,
		startedAt: time.Now(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/v1/status" && r.Method == http.MethodGet:
		s.handleStatus(w)
	case r.URL.Path == "/v1/reconcile" && r.Method == http.MethodPost:
		s.handleReconcile(w)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter) {
	status := map[string]any{
		"connection": map[string]any{
			"state":         s.conn.State().String(),
			"lastCloseCode": int(s.conn.LastCloseCode()),
		},
		"notifications": map[string]any{
			"total":  len(s.notify.Notifications()),
			"unread": s.notify.UnreadCount(),
		},
		"requests": map[string]any{
			"total": len(s.requests.Requests()),
		},
		"conversation": map[string]any{
			"sessionKey": s.session.SessionKey(),
			"messages":   len(s.session.History()),
		},
		"statePath":     s.state.StatePath(),
		"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleReconcile(w http.ResponseWriter) {
	s.poller.TriggerNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
