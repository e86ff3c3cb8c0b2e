package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cloudconsole/livesync/internal/api"
	"github.com/cloudconsole/livesync/internal/chat"
	"github.com/cloudconsole/livesync/internal/diag"
	"github.com/cloudconsole/livesync/internal/notify"
	"github.com/cloudconsole/livesync/internal/realtime"
	"github.com/cloudconsole/livesync/internal/requests"
	"github.com/cloudconsole/livesync/internal/storage"
	"github.com/cloudconsole/livesync/internal/wire"
)

func main() {
	_ = godotenv.Load()

	identity := strings.TrimSpace(os.Getenv("LIVESYNC_IDENTITY"))
	token := strings.TrimSpace(os.Getenv("LIVESYNC_TOKEN"))
	if identity == "" || token == "" {
		log.Fatalf("LIVESYNC_IDENTITY and LIVESYNC_TOKEN are required")
	}
	apiURL := os.Getenv("LIVESYNC_API_URL")
	wsURL := os.Getenv("LIVESYNC_WS_URL")
	if wsURL == "" {
		wsURL = "ws://127.0.0.1:8000/ws/chat"
	}

	backend, err := buildStateBackendFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize state backend: %v", err)
	}
	store, err := storage.NewStore(backend, log.Default())
	if err != nil {
		log.Fatalf("failed to load durable state: %v", err)
	}
	defer store.Close()

	watcher, err := storage.NewChangeWatcher(store, log.Default())
	if err != nil {
		log.Fatalf("failed to watch state file: %v", err)
	}
	if watcher != nil {
		defer watcher.Close()
	}

	codec, err := wire.NewCodec()
	if err != nil {
		log.Fatalf("failed to build wire codec: %v", err)
	}
	seen := realtime.NewSeenIDCache(intEnv("LIVESYNC_SEEN_CACHE_SIZE", 0))
	router := realtime.NewRouter(codec, seen, log.Default())

	remote := api.NewHTTPClient(apiURL, token, nil)
	notifyStore := notify.NewStore(store, remote, log.Default())
	requestCache := requests.NewCache(store, remote, log.Default())

	poller := notify.NewPoller(notifyStore, remote, notify.PollerOptions{
		Interval: durationEnv("LIVESYNC_POLL_INTERVAL", 0),
		OnPopup: func(n storage.Notification) {
			log.Printf("popup: %s: %s%s", n.Title, n.Message, deliveryChime(store))
		},
		Logger: log.Default(),
	})

	manager := realtime.NewManager(realtime.ManagerOptions{
		URL:               wsURL,
		ReconnectDelay:    durationEnv("LIVESYNC_RECONNECT_DELAY", 0),
		KeepaliveInterval: durationEnv("LIVESYNC_KEEPALIVE_INTERVAL", 30*time.Second),
		KeepalivePayload:  wire.PingPayload,
		OnMessage:         router.Route,
		OnState: func(state realtime.State) {
			log.Printf("connection state: %s", state)
			if state == realtime.StateClosed {
				// The poll loop covers whatever the push channel misses
				// while the connection is down.
				poller.TriggerNow()
			}
		},
		Logger: log.Default(),
	})

	session := chat.NewSession(store, manager, log.Default())
	session.Resume(identity, envOr("LIVESYNC_SESSION_EPOCH", "default"))

	registerHandlers(router, manager, store, notifyStore, requestCache, session, poller)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var realtimeEnabled bool
	store.View(func(snap *storage.Snapshot) {
		realtimeEnabled = snap.Prefs.RealtimeUpdates
	})
	if realtimeEnabled {
		if err := manager.Connect(ctx, identity, token); err != nil {
			log.Printf("initial connect failed: %v", err)
		}
	} else {
		log.Printf("realtime updates disabled by preference; relying on polling")
	}

	// Another process may flip the realtime preference; the change watcher
	// reloads the snapshot and this subscriber applies the new setting.
	var prefMu sync.Mutex
	prevEnabled := realtimeEnabled
	store.Subscribe(func() {
		var enabled bool
		store.View(func(snap *storage.Snapshot) {
			enabled = snap.Prefs.RealtimeUpdates
		})
		prefMu.Lock()
		changed := enabled != prevEnabled
		prevEnabled = enabled
		prefMu.Unlock()
		if !changed {
			return
		}
		if enabled {
			log.Printf("realtime updates enabled; connecting")
			go func() {
				if err := manager.Connect(ctx, identity, token); err != nil {
					log.Printf("connect after preference change failed: %v", err)
				}
			}()
		} else {
			log.Printf("realtime updates disabled; disconnecting")
			go manager.Disconnect()
		}
	})

	diagAddr := envOr("LIVESYNC_DIAG_ADDR", "127.0.0.1:8091")
	diagServer := diag.NewServer(manager, notifyStore, requestCache, session, store, poller)
	go func() {
		log.Printf("diagnostics listening on %s", diagAddr)
		if err := http.ListenAndServe(diagAddr, diagServer); err != nil {
			log.Printf("diagnostics server stopped: %v", err)
		}
	}()

	go poller.Run(ctx)

	<-ctx.Done()
	log.Printf("shutting down")
	poller.Stop()
	manager.Disconnect()
}

func registerHandlers(router *realtime.Router, manager *realtime.Manager, store *storage.Store, notifyStore *notify.Store, requestCache *requests.Cache, session *chat.Session, poller *notify.Poller) {
	router.Subscribe(wire.KindConnectionReady, func(event wire.Event) {
		log.Printf("push channel ready")
		poller.TriggerNow()
	})
	router.Subscribe(wire.KindBell, func(event wire.Event) {
		bell := event.(wire.BellNotification)
		id := bell.NotificationID
		if id == "" {
			id = bell.MessageID()
		}
		notifyStore.MergePush(storage.Notification{
			ID:        id,
			Title:     bell.Title,
			Message:   bell.Message,
			Severity:  bell.Severity,
			CreatedAt: bell.Timestamp,
			Detail:    bell.Detail,
		})
	})
	router.Subscribe(wire.KindApproval, func(event wire.Event) {
		approval := event.(wire.ApprovalNotification)
		severity := "success"
		title := "Request approved"
		if !approval.Approved {
			severity = "warning"
			title = "Request declined"
		}
		notifyStore.MergePush(storage.Notification{
			ID:        approval.MessageID(),
			Title:     title,
			Message:   approval.Message,
			Severity:  severity,
			CreatedAt: approval.Timestamp,
			Detail:    map[string]string{"environment": approval.Environment},
		})
	})
	router.Subscribe(wire.KindPopup, func(event wire.Event) {
		popup := event.(wire.PopupNotification)
		log.Printf("popup (%s, %s): %s: %s%s", popup.Severity, popup.Duration, popup.Title, popup.Message, deliveryChime(store))
		if payload, err := wire.PopupDeliveredPayload(popup.PopupID, popup.MessageID()); err == nil {
			manager.Send(context.Background(), payload)
		}
	})
	router.Subscribe(wire.KindRequestUpdate, func(event wire.Event) {
		update := event.(wire.RequestUpdate)
		requestCache.ApplyDelta(requests.Delta{
			RequestID: update.RequestID,
			Status:    update.Status,
			Resources: update.Resources,
		})
	})
	router.Subscribe(wire.KindChatResponse, func(event wire.Event) {
		session.HandleResponse(event.(wire.ChatResponse))
	})
}

// deliveryChime rings the terminal bell when the sound preference is on.
func deliveryChime(store *storage.Store) string {
	enabled := false
	store.View(func(snap *storage.Snapshot) {
		enabled = snap.Prefs.SoundOnDelivery
	})
	if enabled {
		return "\a"
	}
	return ""
}

func buildStateBackendFromEnv() (storage.StateBackend, error) {
	stateKey := envOr("LIVESYNC_STATE_KEY", "")
	if dsn := strings.TrimSpace(os.Getenv("LIVESYNC_STATE_DSN")); dsn != "" {
		return storage.BuildStateBackendFromDSN(dsn, stateKey)
	}
	if stateFile := strings.TrimSpace(os.Getenv("LIVESYNC_STATE_FILE")); stateFile != "" {
		return storage.BuildStateBackendFromDSN(stateFile, stateKey)
	}
	return nil, nil
}

func envOr(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
