package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snap := SnapshotV1{
		Header:   Header{Version: Version, RoomID: "room_1", Tick: 900},
		GridSize: 12,
		Started:  true,
		Parcels:  []ParcelV1{{Loc: [2]int{1, 2}, Owner: "P1", Price: 150}},
		Players: []PlayerV1{{
			ID: "P1", Name: "alice", Cash: 9850, MonthlyActions: 19,
			Allocations: map[string]int{"education": 2},
		}},
		Governance: GovernanceV1{Treasury: 12, Budgets: map[string]int64{"ubi": 5}, LVTRate: 0.01},
	}
	path := filepath.Join(dir, "snapshots", FileName(snap.Header.Tick))
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header != snap.Header || got.Players[0].Cash != 9850 || got.Players[0].Allocations["education"] != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Governance.Budgets["ubi"] != 5 || got.Parcels[0].Owner != "P1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	h, err := ReadHeader(path)
	if err != nil || h.Tick != 900 || h.RoomID != "room_1" {
		t.Fatalf("header: %+v %v", h, err)
	}
}

func TestLatestPicksHighestTick(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"100.snap.zst", "2000.snap.zst", "300.snap.zst", "junk.snap.zst", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if got := Latest(dir); filepath.Base(got) != "2000.snap.zst" {
		t.Fatalf("latest: %q", got)
	}
	if got := Latest(filepath.Join(dir, "missing")); got != "" {
		t.Fatalf("missing dir: %q", got)
	}
}
