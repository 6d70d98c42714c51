package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"gridcity.ai/internal/persistence/snapshot"
	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/tuning"
)

func TestRun_JoinSubmitAndBroadcast(t *testing.T) {
	r, _ := newTestRoom(t, func(cfg *Config, tu *tuning.Tuning) {
		cfg.Broadcast = nil
		tu.TickRateHz = 50
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
	defer callCancel()

	out := make(chan []byte, 64)
	resp, err := r.RequestJoin(callCtx, JoinRequest{Name: "alice", Out: out})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if resp.Err != nil || resp.Welcome.PlayerID == "" || resp.Welcome.ResumeToken == "" {
		t.Fatalf("welcome=%+v err=%v", resp.Welcome, resp.Err)
	}
	if resp.State.RoomID != "room_test" || resp.Welcome.ProtocolVersion != protocol.Version {
		t.Fatalf("state room=%s version=%s", resp.State.RoomID, resp.Welcome.ProtocolVersion)
	}

	res, err := r.Submit(callCtx, protocol.TxIntent{ID: "run-1", Type: protocol.TxPurchaseParcel, PlayerID: resp.Welcome.PlayerID, Loc: at(0, 0)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Success {
		t.Fatalf("purchase failed: %s %s", res.Code, res.Error)
	}
	dup, err := r.Submit(callCtx, protocol.TxIntent{ID: "run-1", Type: protocol.TxPurchaseParcel, PlayerID: resp.Welcome.PlayerID, Loc: at(0, 1)})
	if err != nil {
		t.Fatalf("submit dup: %v", err)
	}
	if dup.Code != protocol.ErrDuplicateTx {
		t.Fatalf("dup code=%s want %s", dup.Code, protocol.ErrDuplicateTx)
	}

	seen := false
	for !seen {
		select {
		case b := <-out:
			base, err := protocol.DecodeBase(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			seen = base.Type == protocol.TypeTransactionComplete
		case <-callCtx.Done():
			t.Fatalf("timeout waiting for TRANSACTION_COMPLETE")
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
	if r.Ledger().Get(resp.Welcome.PlayerID) == nil {
		t.Fatalf("player missing after run")
	}
}

func TestRun_StopUnblocksCallers(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	r.Stop()
	r.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run after stop: %v", err)
	}
	if _, err := r.Submit(context.Background(), protocol.TxIntent{Type: protocol.TxSpendCash}); !errors.Is(err, ErrStopped) {
		t.Fatalf("submit after stop err=%v want ErrStopped", err)
	}
}

func TestRun_RequestSnapshot(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	sink := make(chan snapshot.SnapshotV1, 1)
	r.SetSnapshotSink(sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	callCtx, callCancel := context.WithTimeout(ctx, 2*time.Second)
	defer callCancel()
	tick, err := r.RequestSnapshot(callCtx)
	if err != nil {
		t.Fatalf("RequestSnapshot: %v", err)
	}
	select {
	case snap := <-sink:
		if snap.Header.Tick != tick || snap.Header.RoomID != "room_test" {
			t.Fatalf("snapshot header=%+v want tick %d", snap.Header, tick)
		}
	case <-callCtx.Done():
		t.Fatalf("no snapshot delivered")
	}
}
