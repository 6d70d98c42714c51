package log

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/room"
)

func TestTxLogger_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	l := NewTxLogger(dir, Options{})
	for i, id := range []string{"a", "b", "c"} {
		bal := int64(100 * (i + 1))
		err := l.WriteTx(room.TxLogEntry{
			Tick:   uint64(i),
			RoomID: "room_1",
			Intent: protocol.TxIntent{ID: id, Type: protocol.TxSpendCash, PlayerID: "P0001", Amount: 5},
			Result: protocol.TxResult{Success: true, TransactionID: id, NewBalance: &bal},
		})
		if err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []room.TxLogEntry
	if err := ReadTxLog(dir, func(e room.TxLogEntry) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries=%d want 3", len(got))
	}
	if got[2].Intent.ID != "c" || got[2].Tick != 2 || got[2].Intent.Type != protocol.TxSpendCash {
		t.Fatalf("last entry=%+v", got[2])
	}
	if got[1].Result.NewBalance == nil || *got[1].Result.NewBalance != 200 {
		t.Fatalf("balance not preserved: %+v", got[1].Result)
	}
}

func TestSegmentWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	var sealed []string
	w := NewSegmentWriter(dir, "audit", Options{OnSeal: func(p string) { sealed = append(sealed, filepath.Base(p)) }})
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Write(room.AuditEntry{Action: "PARCEL_PURCHASE", Actor: "P0001"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(room.AuditEntry{Action: "DESTROY", Actor: "P0001", Amount: 30}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(dir, "audit")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%v want 2", files)
	}
	if filepath.Base(files[0]) != "audit-2026-03-01-10-000.jsonl.zst" || filepath.Base(files[1]) != "audit-2026-03-01-11-000.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}
	if len(sealed) != 2 || sealed[0] != filepath.Base(files[0]) || sealed[1] != filepath.Base(files[1]) {
		t.Fatalf("sealed=%v", sealed)
	}

	actions := readActions(t, files)
	if len(actions) != 2 || actions[0] != "PARCEL_PURCHASE" || actions[1] != "DESTROY" {
		t.Fatalf("actions=%v", actions)
	}
}

func TestSegmentWriter_SizeCapStartsNewSegment(t *testing.T) {
	dir := t.TempDir()
	var sealed []string
	w := NewSegmentWriter(dir, "audit", Options{
		SegmentBytes: 120,
		OnSeal:       func(p string) { sealed = append(sealed, filepath.Base(p)) },
	})
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	want := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		action := fmt.Sprintf("ACTION_%d", i)
		want = append(want, action)
		if err := w.Write(room.AuditEntry{Action: action, Actor: "P0001"}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(dir, "audit")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("files=%v want a split", files)
	}
	if len(sealed) != len(files) {
		t.Fatalf("sealed=%v files=%v", sealed, files)
	}
	for i, f := range files {
		name := fmt.Sprintf("audit-2026-03-01-10-%03d.jsonl.zst", i)
		if filepath.Base(f) != name || sealed[i] != name {
			t.Fatalf("segment %d=%s sealed=%s want %s", i, filepath.Base(f), sealed[i], name)
		}
	}

	got := readActions(t, files)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("actions=%v want %v", got, want)
	}
}

func TestSegmentWriter_ReopenSameHourUsesNextSegment(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, action := range []string{"FIRST", "SECOND"} {
		w := NewSegmentWriter(dir, "audit", Options{})
		w.now = func() time.Time { return clock }
		if err := w.Write(room.AuditEntry{Action: action}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}

	files, err := ListFiles(dir, "audit")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[1]) != "audit-2026-03-01-10-001.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}
	if got := readActions(t, files); len(got) != 2 || got[0] != "FIRST" || got[1] != "SECOND" {
		t.Fatalf("actions=%v", got)
	}
}

func TestScanFile_ReadsUnsealedSegment(t *testing.T) {
	dir := t.TempDir()
	w := NewSegmentWriter(dir, "audit", Options{})
	for _, action := range []string{"A", "B"} {
		if err := w.Write(room.AuditEntry{Action: action}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// No Close: the process died with the segment open.
	files, err := ListFiles(dir, "audit")
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	if got := readActions(t, files); len(got) != 2 || got[1] != "B" {
		t.Fatalf("actions=%v", got)
	}
	_ = w.Close()
}

func readActions(t *testing.T, files []string) []string {
	t.Helper()
	var actions []string
	for _, f := range files {
		if err := ScanFile(f, func(e room.AuditEntry) error {
			actions = append(actions, e.Action)
			return nil
		}); err != nil {
			t.Fatalf("scan %s: %v", f, err)
		}
	}
	return actions
}
