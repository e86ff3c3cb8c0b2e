package realtime

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

type Logger interface {
	Printf(format string, args ...any)
}

type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// statusPageReload is the application close code a client sends before an
// intentional page reload; it must not trigger a reconnect on other tabs.
const statusPageReload = websocket.StatusCode(4001)

// Conn is the transport under the manager. The production implementation
// wraps a websocket connection; tests substitute fakes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type DialFunc func(ctx context.Context, connectURL string) (Conn, error)

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.conn.Close(code, reason)
}

func dialWebsocket(ctx context.Context, connectURL string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, connectURL, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return &wsConn{conn: conn}, nil
}

type ManagerOptions struct {
	// URL is the push endpoint, e.g. wss://host/ws/chat. The bearer token is
	// appended as a query parameter on connect.
	URL  string
	Dial DialFunc
	// ReconnectDelay is the fixed delay before the single reconnect attempt
	// scheduled after an unexpected close.
	ReconnectDelay time.Duration
	// KeepaliveInterval and KeepalivePayload drive the idle application-level
	// ping; zero interval disables it.
	KeepaliveInterval time.Duration
	KeepalivePayload  func() ([]byte, error)
	OnMessage         func(raw []byte)
	OnState           func(State)
	Logger            Logger
}

// Manager owns the single push connection for the authenticated identity.
// Connect/Disconnect bound its lifetime to login and logout; an unexpected
// close schedules exactly one reconnect attempt while the identity is still
// authenticated.
type Manager struct {
	mu                sync.Mutex
	opts              ManagerOptions
	identity          string
	token             string
	state             State
	conn              Conn
	connGen           uint64
	lastCloseCode     websocket.StatusCode
	reconnectPending  bool
	reconnectTimer    *time.Timer
	expectedClose     bool
	keepaliveStop     chan struct{}
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Dial == nil {
		opts.Dial = dialWebsocket
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	return &Manager{opts: opts, state: StateClosed, lastCloseCode: -1}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) LastCloseCode() websocket.StatusCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCloseCode
}

// Connect establishes the push connection for identity. A concurrent call
// while a connect is already in flight is a no-op. An existing open
// connection is closed first.
func (m *Manager) Connect(ctx context.Context, identity, token string) error {
	m.mu.Lock()
	if m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	if m.conn != nil {
		old := m.conn
		m.conn = nil
		m.connGen++
		go func() { _ = old.Close(websocket.StatusNormalClosure, "replaced") }()
	}
	m.identity = identity
	m.token = token
	m.expectedClose = false
	m.state = StateConnecting
	connectURL, err := m.connectURL()
	if err != nil {
		m.state = StateClosed
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	conn, dialErr := m.opts.Dial(ctx, connectURL)

	m.mu.Lock()
	if m.identity != identity {
		// Logged out (or switched identity) while dialing; the result is stale.
		m.mu.Unlock()
		if dialErr == nil {
			_ = conn.Close(websocket.StatusNormalClosure, "stale")
		}
		return nil
	}
	if dialErr != nil {
		m.state = StateClosed
		m.lastCloseCode = websocket.StatusAbnormalClosure
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.emitState(StateClosed)
		m.logf("connect failed: %v", dialErr)
		return dialErr
	}
	m.conn = conn
	m.connGen++
	gen := m.connGen
	m.state = StateOpen
	m.reconnectPending = false
	m.startKeepaliveLocked(conn)
	m.mu.Unlock()

	m.emitState(StateOpen)
	go m.readLoop(conn, gen)
	return nil
}

// Send writes a payload on the open connection. Sends while not open are
// dropped silently: they are not queued, and reconciliation covers the gap.
func (m *Manager) Send(ctx context.Context, payload []byte) {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()
	if !open || conn == nil {
		m.logf("dropping send while connection is %s", m.State())
		return
	}
	if err := conn.Write(ctx, payload); err != nil {
		m.logf("send failed: %v", err)
	}
}

// Disconnect tears the connection down on logout: the closure is expected,
// the identity is cleared, and any scheduled reconnect is cancelled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.expectedClose = true
	m.identity = ""
	m.token = ""
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectPending = false
	conn := m.conn
	m.conn = nil
	m.connGen++
	m.stopKeepaliveLocked()
	wasOpen := m.state != StateClosed
	m.state = StateClosed
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "logout")
	}
	if wasOpen {
		m.emitState(StateClosed)
	}
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		if m.opts.OnMessage != nil {
			m.opts.OnMessage(data)
		}
	}
}

func (m *Manager) handleClose(gen uint64, err error) {
	code := websocket.CloseStatus(err)
	if code == -1 {
		code = websocket.StatusAbnormalClosure
	}

	m.mu.Lock()
	if gen != m.connGen {
		// A newer connection replaced this one; nothing to do.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.stopKeepaliveLocked()
	m.state = StateClosed
	m.lastCloseCode = code
	expected := m.expectedClose || isExpectedCloseCode(code)
	if !expected && m.identity != "" {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	m.emitState(StateClosed)
	if expected {
		m.logf("connection closed (code %d)", code)
	} else {
		m.logf("connection lost (code %d), reconnect in %s", code, m.opts.ReconnectDelay)
	}
}

func (m *Manager) scheduleReconnectLocked() {
	if m.reconnectPending || m.identity == "" {
		return
	}
	m.reconnectPending = true
	identity, token := m.identity, m.token
	m.reconnectTimer = time.AfterFunc(m.opts.ReconnectDelay, func() {
		m.mu.Lock()
		m.reconnectPending = false
		stillAuthenticated := m.identity == identity && m.identity != ""
		m.mu.Unlock()
		if !stillAuthenticated {
			return
		}
		_ = m.Connect(context.Background(), identity, token)
	})
}

func isExpectedCloseCode(code websocket.StatusCode) bool {
	switch code {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd, statusPageReload:
		return true
	default:
		return false
	}
}

func (m *Manager) startKeepaliveLocked(conn Conn) {
	if m.opts.KeepaliveInterval <= 0 || m.opts.KeepalivePayload == nil {
		return
	}
	m.stopKeepaliveLocked()
	stop := make(chan struct{})
	m.keepaliveStop = stop
	interval := m.opts.KeepaliveInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				payload, err := m.opts.KeepalivePayload()
				if err != nil {
					continue
				}
				// A write failure here surfaces through the read loop.
				_ = conn.Write(context.Background(), payload)
			}
		}
	}()
}

func (m *Manager) stopKeepaliveLocked() {
	if m.keepaliveStop != nil {
		close(m.keepaliveStop)
		m.keepaliveStop = nil
	}
}

func (m *Manager) connectURL() (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(m.opts.URL))
	if err != nil {
		return "", err
	}
	q := parsed.Query()
	q.Set("token", m.token)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

func (m *Manager) emitState(state State) {
	if m.opts.OnState != nil {
		m.opts.OnState(state)
	}
}

func (m *Manager) logf(format string, args ...any) {
	if m.opts.Logger == nil {
		return
	}
	m.opts.Logger.Printf(format, args...)
}
