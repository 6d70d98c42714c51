package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"gridcity.ai/internal/sim/room"
	"gridcity.ai/internal/transport/observer"
	"gridcity.ai/internal/transport/ws"
)

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/ws", ws.NewServer(s.mgr, s.tune.RateLimits, s.logger).Handler())

	if s.cfg.AdminHTTP {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/rooms", s.handleAdminRooms)
		mux.HandleFunc("/admin/v1/rooms/snapshot", s.handleAdminSnapshot)

		obsSrv := observer.NewServer(s.hub, s.mgr, s.logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		s.logger.Printf("admin endpoints disabled (GRIDCITY_ENABLE_ADMIN_HTTP=false)")
	}
	if s.cfg.PprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (s *server) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	type gauge struct {
		name, help string
		value      func(m room.RoomMetrics) string
	}
	i := func(v int) string { return strconv.Itoa(v) }
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	gauges := []gauge{
		{"gridcity_room_tick", "Current room tick.", func(m room.RoomMetrics) string { return u(m.Tick) }},
		{"gridcity_room_game_day", "Current game day.", func(m room.RoomMetrics) string { return i(m.GameDay) }},
		{"gridcity_room_players", "Players in the room ledger.", func(m room.RoomMetrics) string { return i(m.Players) }},
		{"gridcity_room_clients", "Connected clients.", func(m room.RoomMetrics) string { return i(m.Clients) }},
		{"gridcity_room_buildings", "Buildings on the grid.", func(m room.RoomMetrics) string { return i(m.Buildings) }},
		{"gridcity_room_population", "Total residents.", func(m room.RoomMetrics) string { return i(m.Population) }},
		{"gridcity_room_treasury", "City treasury balance.", func(m room.RoomMetrics) string { return strconv.FormatInt(m.Treasury, 10) }},
		{"gridcity_room_active_listings", "Open marketplace listings.", func(m room.RoomMetrics) string { return i(m.ActiveListings) }},
		{"gridcity_room_open_auctions", "Open parcel auctions.", func(m room.RoomMetrics) string { return i(m.OpenAuctions) }},
		{"gridcity_room_panics_total", "Recovered handler panics.", func(m room.RoomMetrics) string { return u(m.Panics) }},
		{"gridcity_room_step_ms", "Last tick step duration in milliseconds.", func(m room.RoomMetrics) string { return strconv.FormatFloat(m.StepMS, 'f', 3, 64) }},
	}

	ids := s.mgr.RoomIDs()
	metrics := make(map[string]room.RoomMetrics, len(ids))
	for _, id := range ids {
		if rt := s.mgr.Runtime(id); rt != nil {
			metrics[id] = rt.Room.Metrics()
		}
	}

	for _, g := range gauges {
		fmt.Fprintf(rw, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", g.name)
		for _, id := range ids {
			if m, ok := metrics[id]; ok {
				fmt.Fprintf(rw, "%s{room=%q} %s\n", g.name, id, g.value(m))
			}
		}
	}

	fmt.Fprintf(rw, "# HELP gridcity_room_tx_total Processed transactions by outcome.\n")
	fmt.Fprintf(rw, "# TYPE gridcity_room_tx_total counter\n")
	for _, id := range ids {
		m, ok := metrics[id]
		if !ok {
			continue
		}
		fmt.Fprintf(rw, "gridcity_room_tx_total{room=%q,result=%q} %d\n", id, "accepted", m.TxAccepted)
		fmt.Fprintf(rw, "gridcity_room_tx_total{room=%q,result=%q} %d\n", id, "rejected", m.TxRejected)
		fmt.Fprintf(rw, "gridcity_room_tx_total{room=%q,result=%q} %d\n", id, "duplicate", m.TxDuplicate)
	}

	fmt.Fprintf(rw, "# HELP gridcity_room_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE gridcity_room_queue_depth gauge\n")
	for _, id := range ids {
		m, ok := metrics[id]
		if !ok {
			continue
		}
		fmt.Fprintf(rw, "gridcity_room_queue_depth{room=%q,queue=%q} %d\n", id, "inbox", m.QueueDepths.Inbox)
		fmt.Fprintf(rw, "gridcity_room_queue_depth{room=%q,queue=%q} %d\n", id, "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "gridcity_room_queue_depth{room=%q,queue=%q} %d\n", id, "leave", m.QueueDepths.Leave)
	}

	fmt.Fprintf(rw, "# HELP gridcity_econ_cache_total Economy index cache lookups.\n")
	fmt.Fprintf(rw, "# TYPE gridcity_econ_cache_total counter\n")
	for _, id := range ids {
		m, ok := metrics[id]
		if !ok {
			continue
		}
		fmt.Fprintf(rw, "gridcity_econ_cache_total{room=%q,scope=%q,result=%q} %d\n", id, "global", "hit", m.Cache.GlobalHits)
		fmt.Fprintf(rw, "gridcity_econ_cache_total{room=%q,scope=%q,result=%q} %d\n", id, "global", "miss", m.Cache.GlobalMisses)
		fmt.Fprintf(rw, "gridcity_econ_cache_total{room=%q,scope=%q,result=%q} %d\n", id, "local", "hit", m.Cache.LocalHits)
		fmt.Fprintf(rw, "gridcity_econ_cache_total{room=%q,scope=%q,result=%q} %d\n", id, "local", "miss", m.Cache.LocalMisses)
	}

	fmt.Fprintf(rw, "# HELP gridcity_room_spectators Observer connections per room.\n")
	fmt.Fprintf(rw, "# TYPE gridcity_room_spectators gauge\n")
	for _, id := range ids {
		fmt.Fprintf(rw, "gridcity_room_spectators{room=%q} %d\n", id, s.hub.Spectators(id))
	}

	if s.idx != nil {
		fmt.Fprintf(rw, "# HELP gridcity_index_dropped_total Index writes dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE gridcity_index_dropped_total counter\n")
		fmt.Fprintf(rw, "gridcity_index_dropped_total %d\n", s.idx.Dropped())
	}
}

type adminRoom struct {
	RoomID     string           `json:"room_id"`
	Name       string           `json:"name"`
	Dynamic    bool             `json:"dynamic"`
	Spectators int              `json:"spectators"`
	Metrics    room.RoomMetrics `json:"metrics"`
}

func (s *server) handleAdminRooms(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !observer.IsLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	out := []adminRoom{}
	for _, id := range s.mgr.RoomIDs() {
		rt := s.mgr.Runtime(id)
		if rt == nil {
			continue
		}
		_, configured := s.rooms.RoomSpecByID(id)
		out = append(out, adminRoom{
			RoomID:     id,
			Name:       rt.Spec.Name,
			Dynamic:    !configured,
			Spectators: s.hub.Spectators(id),
			Metrics:    rt.Room.Metrics(),
		})
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(out)
}

func (s *server) handleAdminSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !observer.IsLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	roomID := r.URL.Query().Get("room")
	rt := s.mgr.Runtime(roomID)
	if rt == nil {
		http.Error(rw, "room not found", http.StatusNotFound)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	tick, err := rt.Room.RequestSnapshot(ctx)
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "room_id": roomID, "tick": tick, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "room_id": roomID, "tick": tick})
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
