package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gridcity.ai/internal/persistence/indexdb"
	persistlog "gridcity.ai/internal/persistence/log"
	"gridcity.ai/internal/persistence/snapshot"
	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/multiroom"
	"gridcity.ai/internal/sim/room"
	"gridcity.ai/internal/sim/tuning"
)

func findRepoRootForServerTests(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

func newTestServer(t *testing.T, dataDir string, disableDB bool) *server {
	t.Helper()
	root := findRepoRootForServerTests(t)
	configDir := filepath.Join(root, "configs")
	cats, err := catalogs.Load(configDir)
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tune, err := tuning.Load(filepath.Join(configDir, "tuning.yaml"))
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}
	tune.TickRateHz = 50

	rooms := multiroom.Config{
		DefaultRoomID: "room_1",
		AllowDynamic:  true,
		MaxRooms:      4,
		Rooms:         []multiroom.RoomSpec{{ID: "room_1", Name: "Main"}},
	}
	rooms.Normalize()

	s, err := newServer(context.Background(), serverConfig{
		ConfigDir:  configDir,
		DataDir:    dataDir,
		DisableDB:  disableDB,
		LoadLatest: true,
		AdminHTTP:  true,
	}, rooms, tune, cats, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func serve(mux http.Handler, method, target, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_RoutesSnapshotsAndResume(t *testing.T) {
	dataDir := t.TempDir()
	s := newTestServer(t, dataDir, false)
	mux := s.routes()
	ctx := context.Background()

	sess, _, err := s.mgr.Join(ctx, "alice", nil, "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	res, err := s.mgr.Submit(ctx, sess, protocol.TxIntent{ID: "spend-1", Type: protocol.TxSpendCash, Amount: 40})
	if err != nil || !res.Success {
		t.Fatalf("submit res=%+v err=%v", res, err)
	}
	rt := s.mgr.Runtime("room_1")
	waitFor(t, "room to tick", func() bool { return rt.Room.CurrentTick() > 0 })

	if rec := serve(mux, http.MethodGet, "/healthz", "127.0.0.1:1"); rec.Code != 200 || rec.Body.String() != "ok" {
		t.Fatalf("healthz code=%d body=%q", rec.Code, rec.Body.String())
	}

	rec := serve(mux, http.MethodGet, "/metrics", "10.0.0.1:1")
	body := rec.Body.String()
	for _, want := range []string{
		`gridcity_room_players{room="room_1"} 1`,
		`gridcity_room_tick{room="room_1"}`,
		`gridcity_room_tx_total{room="room_1",result="accepted"}`,
		`gridcity_room_spectators{room="room_1"} 0`,
		`gridcity_index_dropped_total`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}

	if rec := serve(mux, http.MethodGet, "/admin/v1/rooms", "8.8.8.8:1234"); rec.Code != http.StatusForbidden {
		t.Fatalf("non-loopback admin code=%d", rec.Code)
	}
	rec = serve(mux, http.MethodGet, "/admin/v1/rooms", "127.0.0.1:1234")
	var rooms []adminRoom
	if err := json.Unmarshal(rec.Body.Bytes(), &rooms); err != nil {
		t.Fatalf("decode rooms: %v body=%s", err, rec.Body.String())
	}
	if len(rooms) != 1 || rooms[0].RoomID != "room_1" || rooms[0].Name != "Main" || rooms[0].Dynamic || rooms[0].Metrics.Players != 1 {
		t.Fatalf("rooms=%+v", rooms)
	}

	if rec := serve(mux, http.MethodPost, "/admin/v1/rooms/snapshot?room=nope", "127.0.0.1:1234"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown room snapshot code=%d", rec.Code)
	}
	rec = serve(mux, http.MethodPost, "/admin/v1/rooms/snapshot?room=room_1", "127.0.0.1:1234")
	var snapResp struct {
		OK   bool   `json:"ok"`
		Tick uint64 `json:"tick"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snapResp); err != nil || !snapResp.OK || snapResp.Tick == 0 {
		t.Fatalf("snapshot resp=%s err=%v", rec.Body.String(), err)
	}
	roomDir := filepath.Join(dataDir, "rooms", "room_1")
	snapDir := filepath.Join(roomDir, "snapshots")
	waitFor(t, "snapshot file", func() bool { return snapshot.Latest(snapDir) != "" })

	s.Close()

	// Close writes a final snapshot at the last tick the room reached.
	hdr, err := snapshot.ReadHeader(snapshot.Latest(snapDir))
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if hdr.RoomID != "room_1" || hdr.Tick < snapResp.Tick {
		t.Fatalf("final snapshot header=%+v requested tick=%d", hdr, snapResp.Tick)
	}

	var logged []room.TxLogEntry
	if err := persistlog.ReadTxLog(roomDir, func(e room.TxLogEntry) error {
		logged = append(logged, e)
		return nil
	}); err != nil {
		t.Fatalf("read tx log: %v", err)
	}
	if len(logged) != 1 || logged[0].Intent.ID != "spend-1" || logged[0].Intent.PlayerID != sess.PlayerID {
		t.Fatalf("tx log=%+v", logged)
	}

	rd, err := indexdb.OpenReader(filepath.Join(dataDir, "index", "gridcity.sqlite"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	txs, err := rd.QueryTransactions(indexdb.TxFilter{RoomID: "room_1"})
	if err != nil || len(txs) != 1 {
		t.Fatalf("indexed txs=%+v err=%v", txs, err)
	}
	snaps, err := rd.QuerySnapshots("room_1", 0)
	if err != nil || len(snaps) == 0 || uint64(snaps[0].Tick) != hdr.Tick {
		t.Fatalf("indexed snapshots=%+v err=%v", snaps, err)
	}
	cats, err := rd.Catalogs()
	if err != nil || len(cats) == 0 {
		t.Fatalf("catalog rows=%+v err=%v", cats, err)
	}
	rd.Close()

	// A restart resumes the room, balances included.
	s2 := newTestServer(t, dataDir, false)
	rt2 := s2.mgr.Runtime("room_1")
	if rt2.Room.CurrentTick() < hdr.Tick {
		t.Fatalf("resumed tick=%d want >= %d", rt2.Room.CurrentTick(), hdr.Tick)
	}
	res, err = s2.mgr.Submit(ctx, multiroom.Session{PlayerID: sess.PlayerID, RoomID: "room_1"},
		protocol.TxIntent{ID: "spend-2", Type: protocol.TxSpendCash, Amount: 40})
	if err != nil || !res.Success {
		t.Fatalf("resumed submit res=%+v err=%v", res, err)
	}
	if res.NewBalance == nil || *res.NewBalance != s2.tune.Ledger.StartingBalance-80 {
		t.Fatalf("resumed balance=%v", res.NewBalance)
	}
}

func TestServer_DynamicRoomSurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()
	s := newTestServer(t, dataDir, true)
	ctx := context.Background()

	if _, _, err := s.mgr.Join(ctx, "bob", nil, "party"); err != nil {
		t.Fatalf("dynamic join: %v", err)
	}
	rec := serve(s.routes(), http.MethodGet, "/admin/v1/rooms", "[::1]:4000")
	var rooms []adminRoom
	if err := json.Unmarshal(rec.Body.Bytes(), &rooms); err != nil {
		t.Fatalf("decode rooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0].RoomID != "party" || !rooms[0].Dynamic || rooms[1].RoomID != "room_1" {
		t.Fatalf("rooms=%+v", rooms)
	}
	if rec := serve(s.routes(), http.MethodGet, "/metrics", "10.0.0.1:1"); strings.Contains(rec.Body.String(), "gridcity_index_dropped_total") {
		t.Fatalf("index metric exported with the index disabled")
	}
	if err := s.mgr.FlushState(ctx); err != nil {
		t.Fatalf("flush state: %v", err)
	}
	s.Close()

	if _, err := os.Stat(filepath.Join(dataDir, "index")); !os.IsNotExist(err) {
		t.Fatalf("index dir created with -disable_db: %v", err)
	}

	s2 := newTestServer(t, dataDir, true)
	if got := s2.roomIDs(); len(got) != 2 || got[0] != "party" {
		t.Fatalf("room ids after restart=%v", got)
	}
}

func TestServer_AdminDisabled(t *testing.T) {
	s := newTestServer(t, t.TempDir(), true)
	s.cfg.AdminHTTP = false
	mux := s.routes()
	if rec := serve(mux, http.MethodGet, "/admin/v1/rooms", "127.0.0.1:1"); rec.Code != http.StatusNotFound {
		t.Fatalf("admin disabled code=%d", rec.Code)
	}
	if rec := serve(mux, http.MethodGet, "/admin/v1/observer/bootstrap", "127.0.0.1:1"); rec.Code != http.StatusNotFound {
		t.Fatalf("observer disabled code=%d", rec.Code)
	}
}
