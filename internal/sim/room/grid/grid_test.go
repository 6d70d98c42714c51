package grid

import (
	"testing"

	"gridcity.ai/internal/protocol"
)

func newTestGrid() *Grid {
	return New(12, PriceConfig{Center: 200, Edge: 100, Bump: 10})
}

func TestInitialPrice_CenterAndEdge(t *testing.T) {
	g := newTestGrid()
	center := g.Parcel(Coord{Row: 5, Col: 6}).Price
	if center < 190 || center > 200 {
		t.Fatalf("center price: got %d want ~200", center)
	}
	for _, c := range []Coord{{0, 0}, {0, 6}, {11, 11}, {6, 0}} {
		if p := g.Parcel(c).Price; p != 100 {
			t.Fatalf("edge price at %v: got %d want 100", c, p)
		}
	}
	if InitialPrice(1, Coord{}, 200, 100) != 200 {
		t.Fatalf("1x1 grid should use the center price")
	}
}

func TestPurchase_BumpsUnownedNeighbours(t *testing.T) {
	g := newTestGrid()
	g.Parcel(Coord{Row: 4, Col: 4}).Owner = "P2"
	before := g.Parcel(Coord{Row: 4, Col: 5}).Price
	ownedBefore := g.Parcel(Coord{Row: 4, Col: 4}).Price

	at := Coord{Row: 5, Col: 5}
	price, err := g.CheckPurchase(at)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if price != g.Parcel(at).Price {
		t.Fatalf("quoted %d, parcel price %d", price, g.Parcel(at).Price)
	}
	bumped := g.CommitPurchase(at, "P1", 7)
	if len(bumped) != 7 {
		t.Fatalf("bumped %d neighbours, want 7", len(bumped))
	}
	if g.Parcel(at).Owner != "P1" || g.Parcel(at).PurchasedTick != 7 {
		t.Fatalf("owner not set: %+v", g.Parcel(at))
	}
	if got := g.Parcel(Coord{Row: 4, Col: 5}).Price; got != before+10 {
		t.Fatalf("neighbour price: got %d want %d", got, before+10)
	}
	if got := g.Parcel(Coord{Row: 4, Col: 4}).Price; got != ownedBefore {
		t.Fatalf("owned neighbour price changed: %d -> %d", ownedBefore, got)
	}

	if _, err := g.CheckPurchase(at); protocol.CodeOf(err) != protocol.ErrConflict {
		t.Fatalf("re-purchase: %v", err)
	}
	if _, err := g.CheckPurchase(Coord{Row: 12, Col: 0}); protocol.CodeOf(err) != protocol.ErrInvalidLocation {
		t.Fatalf("out of bounds: %v", err)
	}
}

func TestBuildingLifecycle(t *testing.T) {
	g := newTestGrid()
	at := Coord{Row: 2, Col: 3}
	g.CommitPurchase(at, "P1", 0)

	if err := g.CheckBuildSite(at, "P2"); protocol.CodeOf(err) != protocol.ErrNotOwner {
		t.Fatalf("non-owner build: %v", err)
	}
	if err := g.CheckBuildSite(at, "P1"); err != nil {
		t.Fatalf("build site: %v", err)
	}
	b := &Building{ID: "B1", Type: "cottage", Owner: "P1", Loc: at, UnderConstruction: true, StartTick: 10, ConstructionTicks: 30, Condition: 1}
	g.Place(b)
	if err := g.CheckBuildSite(at, "P1"); protocol.CodeOf(err) != protocol.ErrOccupied {
		t.Fatalf("occupied: %v", err)
	}
	if g.Parcel(at).Building != nil {
		t.Fatalf("parcel linked before completion")
	}
	if len(g.Due(39)) != 0 {
		t.Fatalf("due before duration")
	}
	if due := g.Due(40); len(due) != 1 || due[0] != b {
		t.Fatalf("due at duration: %v", due)
	}
	if !g.Complete(b, 40) {
		t.Fatalf("complete returned false")
	}
	if g.Complete(b, 41) {
		t.Fatalf("second completion should be a no-op")
	}
	if p := g.Parcel(at); p.Building == nil || *p.Building != at {
		t.Fatalf("parcel not linked: %+v", p)
	}

	g.Transfer(at, "P3")
	if g.Parcel(at).Owner != "P3" || g.Building(at).Owner != "P3" {
		t.Fatalf("transfer did not move building with parcel")
	}

	if removed := g.Remove(at); removed != b {
		t.Fatalf("remove returned %v", removed)
	}
	if g.Building(at) != nil || g.Parcel(at).Building != nil {
		t.Fatalf("references left after remove")
	}
}

func TestDepreciatedValueAndWithin(t *testing.T) {
	b := &Building{Condition: 0.5}
	if v := b.DepreciatedValue(1000); v != 500 {
		t.Fatalf("depreciated: %d", v)
	}
	b.UnderConstruction = true
	if v := b.DepreciatedValue(1000); v != 1000 {
		t.Fatalf("under construction value: %d", v)
	}

	g := newTestGrid()
	g.Place(&Building{Loc: Coord{Row: 0, Col: 0}})
	g.Place(&Building{Loc: Coord{Row: 6, Col: 6}})
	g.Place(&Building{Loc: Coord{Row: 3, Col: 3}, UnderConstruction: true})
	got := g.Within(Coord{Row: 1, Col: 1}, 5)
	if len(got) != 2 {
		t.Fatalf("within: got %d buildings", len(got))
	}
	if d := (Coord{Row: 1, Col: 1}).Chebyshev(Coord{Row: 6, Col: 3}); d != 5 {
		t.Fatalf("chebyshev=%d want 5", d)
	}
}
