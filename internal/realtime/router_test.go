package realtime

import (
	"testing"

	"github.com/cloudconsole/livesync/internal/wire"
)

func mustRouterCodec(t *testing.T) *wire.Codec {
	t.Helper()
	codec, err := wire.NewCodec()
	if err != nil {
		t.Fatalf("building codec: %v", err)
	}
	return codec
}

func TestRouterDispatchesToSubscribedKindOnly(t *testing.T) {
	router := NewRouter(mustRouterCodec(t), NewSeenIDCache(50), nil)

	var bells, popups int
	router.Subscribe(wire.KindBell, func(event wire.Event) { bells++ })
	router.Subscribe(wire.KindPopup, func(event wire.Event) { popups++ })

	router.Route([]byte(`{"type":"notification","message_id":"n1","title":"Deployed","message":"env ready"}`))
	if bells != 1 || popups != 0 {
		t.Fatalf("expected the bell handler only, got bells=%d popups=%d", bells, popups)
	}
}

func TestRouterDropsDuplicateMessageIDs(t *testing.T) {
	router := NewRouter(mustRouterCodec(t), NewSeenIDCache(50), nil)

	var calls int
	router.Subscribe(wire.KindBell, func(event wire.Event) { calls++ })

	payload := []byte(`{"type":"notification","message_id":"n1","title":"Deployed","message":"env ready"}`)
	router.Route(payload)
	router.Route(payload)
	if calls != 1 {
		t.Fatalf("redelivered payload must be absorbed, handler ran %d times", calls)
	}
}

func TestRouterDiscardsMalformedPayloads(t *testing.T) {
	router := NewRouter(mustRouterCodec(t), NewSeenIDCache(50), nil)

	var calls int
	router.Subscribe(wire.KindBell, func(event wire.Event) { calls++ })

	router.Route([]byte(`not json`))
	router.Route([]byte(`{"type":"notification","message_id":"n2"}`))
	if calls != 0 {
		t.Fatalf("malformed payloads must never reach handlers, got %d calls", calls)
	}
}

func TestRouterDropsUnrecognizedTypesWithoutError(t *testing.T) {
	router := NewRouter(mustRouterCodec(t), NewSeenIDCache(50), nil)

	var calls int
	router.Subscribe(wire.KindBell, func(event wire.Event) { calls++ })

	router.Route([]byte(`{"type":"telemetry_burst","message_id":"t1"}`))
	if calls != 0 {
		t.Fatalf("unknown types must be dropped, got %d calls", calls)
	}
}

func TestRouterDispatchesHandlersInSubscriptionOrder(t *testing.T) {
	router := NewRouter(mustRouterCodec(t), NewSeenIDCache(50), nil)

	var order []string
	router.Subscribe(wire.KindRequestUpdate, func(event wire.Event) { order = append(order, "first") })
	router.Subscribe(wire.KindRequestUpdate, func(event wire.Event) { order = append(order, "second") })

	router.Route([]byte(`{"type":"request_update","message_id":"r1","request_identifier":"req-1","status":"deployed"}`))
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("handlers must run in subscription order, got %v", order)
	}
}
