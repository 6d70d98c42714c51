package ws

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

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/multiroom"
	"gridcity.ai/internal/sim/room"
	"gridcity.ai/internal/sim/tuning"
)

func newTestServer(t *testing.T, limits tuning.RateLimits) *httptest.Server {
	t.Helper()
	cats, err := catalogs.Load(filepath.Join(findRepoRoot(t), "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tune := tuning.Defaults()
	spec := multiroom.RoomSpec{ID: "room_1"}
	r, err := room.New(spec.RoomConfig(tune), tune, cats)
	if err != nil {
		t.Fatalf("new room: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	m, err := multiroom.NewManager(multiroom.Config{DefaultRoomID: "room_1", Rooms: []multiroom.RoomSpec{spec}},
		map[string]*multiroom.Runtime{"room_1": {Spec: spec, Room: r}}, nil, "")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	srv := httptest.NewServer(NewServer(m, limits, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		m.Close()
		cancel()
		<-done
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil returns the first frame of type typ, skipping room broadcasts.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == typ {
			return b
		}
	}
}

func hello(name string) protocol.HelloMsg {
	return protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, PlayerName: name}
}

func txMsg(in protocol.TxIntent) protocol.TxMsg {
	return protocol.TxMsg{Type: protocol.TypeTx, ProtocolVersion: protocol.Version, Tx: in}
}

func TestHandshakeAndTransaction(t *testing.T) {
	srv := newTestServer(t, tuning.RateLimits{TxPerSecond: 100, TxBurst: 100})
	conn := dial(t, srv)

	send(t, conn, hello("alice"))
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeWelcome), &welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.PlayerID != "P0001" || welcome.RoomID != "room_1" || welcome.ResumeToken == "" || len(welcome.RoomManifest) != 1 {
		t.Fatalf("welcome=%+v", welcome)
	}
	readUntil(t, conn, protocol.TypeGameState)

	send(t, conn, txMsg(protocol.TxIntent{ID: "s1", Type: protocol.TxSpendCash, Amount: 15}))
	var res protocol.TxResultMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeTxResult), &res); err != nil {
		t.Fatalf("tx result: %v", err)
	}
	if !res.Result.Success || res.Result.TransactionID != "s1" || res.Result.NewBalance == nil {
		t.Fatalf("result=%+v", res.Result)
	}

	send(t, conn, map[string]string{"type": "PING", "protocol_version": protocol.Version})
	var em protocol.ErrorMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeError), &em); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if em.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("error code=%s", em.Code)
	}
}

func TestResumeReattachesPlayer(t *testing.T) {
	srv := newTestServer(t, tuning.RateLimits{})
	first := dial(t, srv)
	send(t, first, hello("alice"))
	var w1 protocol.WelcomeMsg
	_ = json.Unmarshal(readUntil(t, first, protocol.TypeWelcome), &w1)
	first.Close()

	second := dial(t, srv)
	h := hello("ignored")
	h.Auth = &protocol.HelloAuth{ResumeToken: w1.ResumeToken}
	send(t, second, h)
	var w2 protocol.WelcomeMsg
	_ = json.Unmarshal(readUntil(t, second, protocol.TypeWelcome), &w2)
	if w2.PlayerID != w1.PlayerID {
		t.Fatalf("resumed as %s want %s", w2.PlayerID, w1.PlayerID)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, tuning.RateLimits{TxPerSecond: 0.001, TxBurst: 1})
	conn := dial(t, srv)
	send(t, conn, hello("alice"))
	readUntil(t, conn, protocol.TypeWelcome)

	send(t, conn, txMsg(protocol.TxIntent{ID: "a", Type: protocol.TxSpendCash, Amount: 1}))
	readUntil(t, conn, protocol.TypeTxResult)
	send(t, conn, txMsg(protocol.TxIntent{ID: "b", Type: protocol.TxSpendCash, Amount: 1}))
	var res protocol.TxResultMsg
	_ = json.Unmarshal(readUntil(t, conn, protocol.TypeTxResult), &res)
	if res.Result.Success || res.Result.Code != protocol.ErrRateLimit || res.Result.TransactionID != "b" {
		t.Fatalf("second tx=%+v", res.Result)
	}
}

func TestHandshakeRejects(t *testing.T) {
	srv := newTestServer(t, tuning.RateLimits{})

	conn := dial(t, srv)
	send(t, conn, txMsg(protocol.TxIntent{ID: "early"}))
	var em protocol.ErrorMsg
	_ = json.Unmarshal(readUntil(t, conn, protocol.TypeError), &em)
	if em.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("code=%s", em.Code)
	}

	conn2 := dial(t, srv)
	h := hello("bob")
	h.RoomID = "nowhere"
	send(t, conn2, h)
	_ = json.Unmarshal(readUntil(t, conn2, protocol.TypeError), &em)
	if em.Code != protocol.ErrRoomNotFound {
		t.Fatalf("code=%s", em.Code)
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
