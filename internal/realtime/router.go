package realtime

import (
	"sync"

	"github.com/cloudconsole/livesync/internal/wire"
)

type Handler func(event wire.Event)

// Router fans decoded events out to per-kind subscribers. Every event passes
// the seen-id cache first, so a payload redelivered on reconnect (or arriving
// through both push and poll with the same id) produces no second effect.
type Router struct {
	codec  *wire.Codec
	seen   *SeenIDCache
	logger Logger

	mu       sync.RWMutex
	handlers map[wire.Kind][]Handler
}

func NewRouter(codec *wire.Codec, seen *SeenIDCache, logger Logger) *Router {
	if seen == nil {
		seen = NewSeenIDCache(0)
	}
	return &Router{
		codec:    codec,
		seen:     seen,
		logger:   logger,
		handlers: map[wire.Kind][]Handler{},
	}
}

func (r *Router) Subscribe(kind wire.Kind, fn Handler) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.handlers[kind] = append(r.handlers[kind], fn)
	r.mu.Unlock()
}

// Route decodes one raw payload and dispatches it. Nothing escapes this
// boundary: malformed payloads are logged and discarded, unknown kinds are
// dropped, duplicates are absorbed.
func (r *Router) Route(raw []byte) {
	event, err := r.codec.Decode(raw)
	if err != nil {
		r.logf("discarding payload: %v", err)
		return
	}
	if unknown, ok := event.(wire.Unrecognized); ok {
		r.logf("dropping unrecognized event type %q", unknown.Type)
		return
	}
	if event.Kind() == wire.KindPong {
		// Keepalive control traffic; dispatched without occupying dedup slots.
		r.dispatch(event)
		return
	}
	if !r.seen.Admit(event.MessageID()) {
		r.logf("dropping duplicate event %s (%s)", event.MessageID(), event.Kind())
		return
	}
	r.dispatch(event)
}

func (r *Router) dispatch(event wire.Event) {
	r.mu.RLock()
	handlers := append([]Handler(nil), r.handlers[event.Kind()]...)
	r.mu.RUnlock()
	for _, fn := range handlers {
		fn(event)
	}
}

func (r *Router) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}
