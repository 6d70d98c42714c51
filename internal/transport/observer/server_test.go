package observer

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gridcity.ai/internal/observerproto"
	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/multiroom"
	"gridcity.ai/internal/sim/room"
	"gridcity.ai/internal/sim/tuning"
)

func TestHub_PublishOnlyToRoomSubscribers(t *testing.T) {
	h := NewHub()
	a := make(chan []byte, 1)
	b := make(chan []byte, 1)
	h.subscribe("room_1", 1, a)
	h.subscribe("room_2", 2, b)

	h.Publish(protocol.Message{Type: protocol.TypeMonthlyUpdate, RoomID: "room_1"})
	h.Publish(protocol.Message{Type: protocol.TypeGameStateDelta, RoomID: "room_1"})
	if len(b) != 0 {
		t.Fatalf("room_2 subscriber got room_1 traffic")
	}
	var got protocol.BaseMessage
	if err := json.Unmarshal(<-a, &got); err != nil || got.Type != protocol.TypeGameStateDelta {
		t.Fatalf("latest=%+v err=%v (full queue keeps the newest)", got, err)
	}

	h.unsubscribe("room_1", 1)
	if h.Spectators("room_1") != 0 || h.Spectators("room_2") != 1 {
		t.Fatalf("spectators room_1=%d room_2=%d", h.Spectators("room_1"), h.Spectators("room_2"))
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.7:1234":  false,
		"garbage":        false,
	} {
		if got := IsLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}

func TestSpectatorStream(t *testing.T) {
	cats, err := catalogs.Load(filepath.Join(findRepoRoot(t), "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	hub := NewHub()
	tune := tuning.Defaults()
	spec := multiroom.RoomSpec{ID: "room_1", Name: "Main"}
	cfg := spec.RoomConfig(tune)
	cfg.Broadcast = hub.Publish
	r, err := room.New(cfg, tune, cats)
	if err != nil {
		t.Fatalf("new room: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	m, err := multiroom.NewManager(multiroom.Config{DefaultRoomID: "room_1", Rooms: []multiroom.RoomSpec{spec}},
		map[string]*multiroom.Runtime{"room_1": {Spec: spec, Room: r}}, nil, "")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	s := NewServer(hub, m, nil)
	if boot := s.Bootstrap(); len(boot.Rooms) != 1 || boot.Rooms[0].Name != "Main" || boot.Rooms[0].Params.GridSize != tune.GridSize {
		t.Fatalf("bootstrap=%+v", boot)
	}

	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, RoomID: "room_1"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, conn, protocol.TypeGameState)

	if _, _, err := m.Join(context.Background(), "alice", nil, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, conn, protocol.TypeGameStateDelta)
	if hub.Spectators("room_1") != 1 {
		t.Fatalf("spectators=%d", hub.Spectators("room_1"))
	}
}

func waitFor(t *testing.T, conn *websocket.Conn, typ string) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if base, err := protocol.DecodeBase(b); err == nil && base.Type == typ {
			return
		}
	}
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	t.Fatalf("could not find repo root (go.mod) from %s", dir)
	return ""
}
