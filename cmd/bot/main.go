package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"gridcity.ai/internal/protocol"
)

// A tiny scripted player: buy the cheapest free parcel, then build on it.
func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "player name")
		roomID   = flag.String("room", "", "room id (empty = server default)")
		building = flag.String("build", "cottage", "building type to start on the bought parcel")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		RoomID:          *roomID,
		PlayerName:      *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	b := &bot{conn: conn, logger: logger, building: *building}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := b.handle(msg); err != nil {
			logger.Printf("%v", err)
			return
		}
	}
}

type bot struct {
	conn     *websocket.Conn
	logger   *log.Logger
	building string

	playerID string
	seq      int
	pending  string
	parcel   *[2]int
	built    bool
}

func (b *bot) handle(msg []byte) error {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return nil
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return nil
		}
		b.playerID = w.PlayerID
		b.logger.Printf("WELCOME room=%s player=%s grid=%d resume=%s", w.RoomID, w.PlayerID, w.RoomParams.GridSize, w.ResumeToken)

	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		return fmt.Errorf("server error %s: %s", e.Code, e.Message)

	case protocol.TypeGameState:
		var m struct {
			Data protocol.GameState `json:"data"`
		}
		if err := json.Unmarshal(msg, &m); err != nil {
			return nil
		}
		b.onState(&m.Data)

	case protocol.TypeTxResult:
		var r protocol.TxResultMsg
		if err := json.Unmarshal(msg, &r); err != nil {
			return nil
		}
		b.onResult(r.Result)

	case protocol.TypeGameVictory:
		b.logger.Printf("game over")
		return fmt.Errorf("done")
	}
	return nil
}

func (b *bot) onState(s *protocol.GameState) {
	if b.pending != "" || b.parcel != nil || s.GameOver {
		return
	}
	var best *protocol.ParcelView
	for i := range s.Grid {
		for j := range s.Grid[i] {
			p := &s.Grid[i][j]
			if p.Owner != "" || p.UnderAuction != "" {
				continue
			}
			if best == nil || p.Price < best.Price {
				best = p
			}
		}
	}
	if best == nil {
		return
	}
	loc := best.Loc
	b.send(protocol.TxIntent{Type: protocol.TxPurchaseParcel, Loc: &loc})
	b.parcel = &loc
}

func (b *bot) onResult(r protocol.TxResult) {
	if r.TransactionID != b.pending {
		return
	}
	b.pending = ""
	if !r.Success {
		b.logger.Printf("tx %s rejected: %s %s", r.TransactionID, r.Code, r.Error)
		if !b.built {
			// Someone else got the parcel; pick again on the next full state.
			b.parcel = nil
		}
		return
	}
	bal := int64(0)
	if r.NewBalance != nil {
		bal = *r.NewBalance
	}
	b.logger.Printf("tx %s ok balance=%d", r.TransactionID, bal)
	if b.parcel != nil && !b.built {
		b.built = true
		b.send(protocol.TxIntent{Type: protocol.TxBuildStart, Loc: b.parcel, BuildingType: b.building})
	}
}

func (b *bot) send(tx protocol.TxIntent) {
	b.seq++
	tx.ID = fmt.Sprintf("bot_%s_%d", b.playerID, b.seq)
	b.pending = tx.ID
	msg := protocol.TxMsg{Type: protocol.TypeTx, ProtocolVersion: protocol.Version, Tx: tx}
	if err := b.conn.WriteJSON(msg); err != nil {
		b.logger.Printf("send %s: %v", tx.Type, err)
	}
}
