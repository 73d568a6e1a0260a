// Command labctl-server is the composition root: it wires the session
// manager, sequence and trigger engines, sqlite-backed library
// persistence, the WebSocket client hub, and (optionally) a Redis-backed
// cross-process event relay into a single running process exposing a
// WebSocket endpoint plus a small REST surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/multiverse-labs/labctl/internal/clienthub"
	"github.com/multiverse-labs/labctl/internal/config"
	"github.com/multiverse-labs/labctl/internal/discovery"
	"github.com/multiverse-labs/labctl/internal/eventbus/redisbus"
	"github.com/multiverse-labs/labctl/internal/profile"
	"github.com/multiverse-labs/labctl/internal/report"
	"github.com/multiverse-labs/labctl/internal/sequence"
	"github.com/multiverse-labs/labctl/internal/sessionmgr"
	"github.com/multiverse-labs/labctl/internal/store"
	"github.com/multiverse-labs/labctl/internal/trigger"
)

// maxRetainedRuns bounds the in-memory report store; one bench at a time
// normally runs a handful of sequences between restarts.
const maxRetainedRuns = 50

func main() {
	flags := config.ParseFlags(os.Args[1:])

	file, err := config.LoadFile(flags.ConfigPath)
	if err != nil {
		log.Fatalf("labctl-server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profileDir := file.ProfileDir
	if flags.ProfileDir != "" {
		profileDir = flags.ProfileDir
	}
	var profiles *profile.Registry
	if profileDir != "" {
		loaded, err := profile.LoadAll(profileDir)
		if err != nil {
			log.Fatalf("labctl-server: loading profiles from %s: %v", profileDir, err)
		}
		profiles = profile.NewRegistry(loaded)
		log.Printf("labctl-server: loaded %d device capability profiles", profiles.Len())
	}

	db, err := store.New(flags.DBPath)
	if err != nil {
		log.Fatalf("labctl-server: opening database at %s: %v", flags.DBPath, err)
	}
	defer db.Close()
	log.Printf("labctl-server: opened database at %s", flags.DBPath)

	discoverer := discovery.NewSimulated(file.SimulatedDevices, profiles)
	manager := sessionmgr.New(ctx, discoverer, config.SessionConfig(file))

	reportStore := report.NewStore(maxRetainedRuns)

	seqEngine := sequence.New(manager, db.Sequences())
	seqEngine.SetRecorder(reportStore)

	trigEngine := trigger.New(manager, manager, seqEngine, db.TriggerScripts())

	dispatcher := clienthub.NewDispatcher(manager, seqEngine, trigEngine, db.Aliases(), db.Settings())
	hub := clienthub.NewHub(dispatcher)

	var relay *redisbus.Relay
	if flags.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: flags.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("labctl-server: connecting to Redis at %s: %v", flags.RedisAddr, err)
		}
		log.Printf("labctl-server: connected to Redis at %s", flags.RedisAddr)
		relay = redisbus.New(rdb, flags.RedisChannel)
	}

	if relay != nil {
		dispatcher.SetSender(&relayingSender{Hub: hub, relay: relay, ctx: ctx, instance: flags.Instance})
	} else {
		dispatcher.SetSender(hub)
	}
	dispatcher.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWebSocket)
	mux.HandleFunc("GET /devices", devicesHandler(manager, db))
	mux.HandleFunc("GET /devices/{id}", deviceHandler(manager))
	mux.HandleFunc("GET /system/status", statusHandler(hub, relay))
	mux.HandleFunc("GET /reports/sequence-runs/{id}", reportHandler(reportStore))

	server := &http.Server{Addr: flags.ListenAddr, Handler: mux}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	if relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runRelayBridge(ctx, relay, hub, flags.Instance)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := manager.SyncDevices(ctx); err != nil {
			log.Printf("labctl-server: initial device sync: %v", err)
		}
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := manager.SyncDevices(ctx); err != nil {
					log.Printf("labctl-server: device sync: %v", err)
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("labctl-server: listening on %s", flags.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("labctl-server: HTTP server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("labctl-server: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	manager.Stop()

	wg.Wait()
	log.Println("labctl-server: shutdown complete")
}

// relayingSender wraps a *clienthub.Hub to also publish every outbound
// frame to Redis, so a sibling labctl-server instance's hub rebroadcasts
// it to its own connected clients. Frames are tagged with the publishing
// instance's id (redisbus.Wrap) so runRelayBridge can drop frames this
// same instance just published instead of looping them back in.
type relayingSender struct {
	*clienthub.Hub
	relay    *redisbus.Relay
	ctx      context.Context
	instance string
}

// SendTo is not relayed: it addresses one connection by a clientID that
// is only meaningful on the hub that issued it (a command response), and
// runRelayBridge rebroadcasts anything it receives to every locally
// connected client — relaying a targeted response would leak it to every
// client on every other instance.
func (s *relayingSender) SendTo(clientID string, data []byte) {
	s.Hub.SendTo(clientID, data)
}

func (s *relayingSender) Broadcast(data []byte) {
	s.Hub.Broadcast(data)
	s.publish(data)
}

func (s *relayingSender) publish(data []byte) {
	wrapped, err := redisbus.Wrap(s.instance, data)
	if err != nil {
		log.Printf("labctl-server: relay: wrapping outbound frame: %v", err)
		return
	}
	if err := s.relay.Publish(s.ctx, wrapped); err != nil {
		log.Printf("labctl-server: relay: publishing outbound frame: %v", err)
	}
}

// runRelayBridge forwards remote-instance frames from Redis back into the
// local hub, dropping frames this instance published itself (relayingSender
// already delivered those locally before publishing).
func runRelayBridge(ctx context.Context, relay *redisbus.Relay, hub *clienthub.Hub, instance string) {
	err := relay.Run(ctx, func(data []byte) {
		origin, frame, err := redisbus.Unwrap(data)
		if err != nil {
			log.Printf("labctl-server: relay: %v", err)
			return
		}
		if origin == instance {
			return
		}
		hub.Broadcast(frame)
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("labctl-server: relay stopped: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func devicesHandler(manager *sessionmgr.Manager, db *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := manager.ListDevices()
		aliases := db.Aliases().List()
		for i, e := range entries {
			if alias, ok := aliases[e.DeviceInfo.IDN()]; ok {
				entries[i].Alias = alias
			}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func deviceHandler(manager *sessionmgr.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if state, err := manager.GetState(id); err == nil {
			writeJSON(w, http.StatusOK, state)
			return
		}
		if status, err := manager.GetScopeState(id); err == nil {
			writeJSON(w, http.StatusOK, status)
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found: " + id})
	}
}

func statusHandler(hub *clienthub.Hub, relay *redisbus.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"clients": hub.ClientCount(),
		}
		if relay != nil {
			status["redis"] = relay.Health().GetStatus()
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func reportHandler(reportStore *report.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		rec, ok := reportStore.Get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no recorded run " + id})
			return
		}

		switch r.URL.Query().Get("format") {
		case "csv":
			w.Header().Set("Content-Type", "text/csv")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", id))
			if err := report.ExportCSV(w, rec); err != nil {
				log.Printf("labctl-server: exporting CSV for %s: %v", id, err)
			}
		case "pdf":
			w.Header().Set("Content-Type", "application/pdf")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", id))
			if err := report.ExportPDF(w, rec); err != nil {
				log.Printf("labctl-server: exporting PDF for %s: %v", id, err)
			}
		default:
			w.Header().Set("Content-Type", "application/json")
			if err := report.ExportJSON(w, rec); err != nil {
				log.Printf("labctl-server: exporting JSON for %s: %v", id, err)
			}
		}
	}
}
