package room

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/room/governance"
	"gridcity.ai/internal/sim/room/grid"
	"gridcity.ai/internal/sim/room/ledger"
	"gridcity.ai/internal/sim/room/market"
	"gridcity.ai/internal/sim/tuning"
)

type recorder struct {
	msgs []protocol.Message
}

func (rec *recorder) broadcast(m protocol.Message) { rec.msgs = append(rec.msgs, m) }

func (rec *recorder) count(typ string) int {
	n := 0
	for _, m := range rec.msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (rec *recorder) last(typ string) (protocol.Message, bool) {
	for i := len(rec.msgs) - 1; i >= 0; i-- {
		if rec.msgs[i].Type == typ {
			return rec.msgs[i], true
		}
	}
	return protocol.Message{}, false
}

// newTestRoom builds a room with ten-tick days and three-day months so
// daily and monthly cycles are reachable in a handful of ticks.
func newTestRoom(t *testing.T, mutate func(cfg *Config, tune *tuning.Tuning)) (*Room, *recorder) {
	t.Helper()
	root := findRepoRoot(t)
	cats, err := catalogs.Load(filepath.Join(root, "configs"))
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tune := tuning.Defaults()
	tune.DayTicks = 10
	tune.MonthDays = 3
	cfg := DefaultConfig("room_test", tune)
	cfg.VictoryDay = 0
	if mutate != nil {
		mutate(&cfg, &tune)
	}
	rec := &recorder{}
	cfg.Broadcast = rec.broadcast
	r, err := New(cfg, tune, cats)
	if err != nil {
		t.Fatalf("new room: %v", err)
	}
	return r, rec
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

func at(row, col int) *[2]int { return &[2]int{row, col} }

func coord(row, col int) grid.Coord { return grid.Coord{Row: row, Col: col} }

func ceil(v float64) float64  { return math.Ceil(v) }
func round(v float64) float64 { return math.Round(v) }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func mustOK(t *testing.T, res protocol.TxResult) protocol.TxResult {
	t.Helper()
	if !res.Success {
		t.Fatalf("tx %s failed: %s (%s)", res.TransactionID, res.Code, res.Error)
	}
	return res
}

func wantCode(t *testing.T, res protocol.TxResult, code string) {
	t.Helper()
	if res.Success {
		t.Fatalf("tx %s succeeded, want %s", res.TransactionID, code)
	}
	if res.Code != code {
		t.Fatalf("code=%s (%s) want %s", res.Code, res.Error, code)
	}
}

func buy(r *Room, id, player string, row, col int) protocol.TxResult {
	return r.Process(protocol.TxIntent{ID: id, Type: protocol.TxPurchaseParcel, PlayerID: player, Loc: at(row, col)})
}

func build(r *Room, id, player, typ string, row, col int) protocol.TxResult {
	return r.Process(protocol.TxIntent{ID: id, Type: protocol.TxBuildStart, PlayerID: player, BuildingType: typ, Loc: at(row, col)})
}

func TestProcess_DuplicateTxRejected(t *testing.T) {
	r, rec := newTestRoom(t, nil)
	p, _ := r.AddPlayer("alice")

	mustOK(t, buy(r, "tx-1", p, 3, 3))
	cash := r.Ledger().Cash(p)

	wantCode(t, buy(r, "tx-1", p, 4, 4), protocol.ErrDuplicateTx)
	if got := r.Ledger().Cash(p); got != cash {
		t.Fatalf("cash changed on duplicate: %d -> %d", cash, got)
	}
	if owner := r.Grid().Parcel(coord(4, 4)).Owner; owner == p {
		t.Fatalf("duplicate purchased the parcel")
	}
	if got := rec.count(protocol.TypeTransactionComplete); got != 1 {
		t.Fatalf("TRANSACTION_COMPLETE count=%d want 1", got)
	}
	r.publishMetrics(0)
	if m := r.Metrics(); m.TxDuplicate != 1 || m.TxAccepted != 1 {
		t.Fatalf("metrics accepted=%d duplicate=%d", m.TxAccepted, m.TxDuplicate)
	}
}

// brokenCouncil panics on budget lookups once armed.
type brokenCouncil struct {
	*governance.Council
	armed bool
}

func (b *brokenCouncil) Budgets() map[string]int64 {
	if b.armed {
		panic("budget table corrupted")
	}
	return b.Council.Budgets()
}

func TestProcess_RecoversHandlerPanic(t *testing.T) {
	gov := &brokenCouncil{}
	r, _ := newTestRoom(t, func(cfg *Config, tune *tuning.Tuning) {
		gov.Council = governance.NewCouncil(governance.ParamsFromTuning(*tune))
		cfg.Governance = gov
	})
	p, _ := r.AddPlayer("alice")
	mustOK(t, buy(r, "tx-1", p, 3, 3))
	cash := r.Ledger().Cash(p)

	gov.armed = true
	wantCode(t, build(r, "tx-2", p, "cottage", 3, 3), protocol.ErrInternal)
	if got := r.Ledger().Cash(p); got != cash {
		t.Fatalf("cash changed on panic: %d -> %d", cash, got)
	}
	if r.Grid().Parcel(coord(3, 3)).Building != nil {
		t.Fatalf("building placed despite panic")
	}

	gov.armed = false
	mustOK(t, buy(r, "tx-3", p, 3, 4))
	r.publishMetrics(0)
	if m := r.Metrics(); m.Panics != 1 {
		t.Fatalf("panics=%d want 1", m.Panics)
	}
}

func TestProcess_UnknownTx(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	p, _ := r.AddPlayer("alice")
	wantCode(t, r.Process(protocol.TxIntent{ID: "x", Type: "TELEPORT", PlayerID: p}), protocol.ErrUnknownTx)
	wantCode(t, r.Process(protocol.TxIntent{ID: "y", Type: protocol.TxPurchaseParcel}), protocol.ErrBadRequest)
}

func TestProcess_AssignsTransactionID(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	p, _ := r.AddPlayer("alice")
	res := mustOK(t, r.Process(protocol.TxIntent{Type: protocol.TxSpendCash, PlayerID: p, Amount: 5}))
	if res.TransactionID == "" {
		t.Fatalf("expected generated transaction id")
	}
	if res.NewBalance == nil || *res.NewBalance != r.Ledger().Cash(p) {
		t.Fatalf("newBalance=%v want %d", res.NewBalance, r.Ledger().Cash(p))
	}
}

func TestProcess_FailureHasNoSideEffects(t *testing.T) {
	r, rec := newTestRoom(t, nil)
	p, _ := r.AddPlayer("alice")
	actions := r.Ledger().ActionsTotal(p)
	cash := r.Ledger().Cash(p)

	wantCode(t, r.Process(protocol.TxIntent{ID: "big", Type: protocol.TxSpendCash, PlayerID: p, Amount: cash + 1}), protocol.ErrNoFunds)
	wantCode(t, r.Process(protocol.TxIntent{ID: "far", Type: protocol.TxPurchaseParcel, PlayerID: p, Loc: at(-1, 0)}), protocol.ErrInvalidLocation)

	if got := r.Ledger().Cash(p); got != cash {
		t.Fatalf("cash=%d want %d", got, cash)
	}
	if got := r.Ledger().ActionsTotal(p); got != actions {
		t.Fatalf("actions=%d want %d", got, actions)
	}
	if len(r.History()) != 0 {
		t.Fatalf("history=%d want 0", len(r.History()))
	}
	if rec.count(protocol.TypeTransactionComplete) != 0 {
		t.Fatalf("rejected tx was broadcast")
	}

	// A rejected id is not remembered, so the client may retry it.
	mustOK(t, r.Process(protocol.TxIntent{ID: "big", Type: protocol.TxSpendCash, PlayerID: p, Amount: 10}))
}

func TestProcess_ActionsExhausted(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	p, _ := r.AddPlayer("alice")
	n := r.Ledger().ActionsTotal(p)
	mustOK(t, r.Process(protocol.TxIntent{ID: "burn", Type: protocol.TxSpendActions, PlayerID: p, Quantity: n}))
	wantCode(t, buy(r, "late", p, 1, 1), protocol.ErrNoActions)
}

func TestProcess_SinglePlayerIgnoresActions(t *testing.T) {
	r, _ := newTestRoom(t, func(cfg *Config, _ *tuning.Tuning) { cfg.SinglePlayer = true })
	p, _ := r.AddPlayer("solo")
	for i := 0; i < 30; i++ {
		mustOK(t, r.Process(protocol.TxIntent{Type: protocol.TxSpendActions, PlayerID: p, Quantity: 5}))
	}
	mustOK(t, buy(r, "still", p, 1, 1))
}

func TestBuildLifecycle(t *testing.T) {
	r, rec := newTestRoom(t, nil)
	p, _ := r.AddPlayer("alice")
	mustOK(t, buy(r, "buy", p, 3, 3))
	cash := r.Ledger().Cash(p)

	res := mustOK(t, build(r, "start", p, "cottage", 3, 3))
	cost, _ := res.Data["cost"].(int64)
	if cost != 400 {
		t.Fatalf("cost=%v want 400", res.Data["cost"])
	}
	if got := r.Ledger().Cash(p); got != cash-400 {
		t.Fatalf("cash=%d want %d", got, cash-400)
	}
	before := *r.Grid().Building(coord(3, 3))
	wantCode(t, build(r, "again", p, "park", 3, 3), protocol.ErrOccupied)
	after := r.Grid().Building(coord(3, 3))
	if after.ID != before.ID || after.Type != "cottage" || after.Owner != p ||
		!after.UnderConstruction || after.StartTick != before.StartTick || after.Condition != before.Condition {
		t.Fatalf("existing building changed: %+v -> %+v", before, *after)
	}
	if got := r.Ledger().Cash(p); got != cash-400 {
		t.Fatalf("cash=%d after rejected build, want %d", got, cash-400)
	}

	complete := protocol.TxIntent{ID: "early", Type: protocol.TxBuildComplete, PlayerID: p, Loc: at(3, 3)}
	wantCode(t, r.Process(complete), protocol.ErrNotReady)

	r.Advance(r.tune.DayTicks)
	b := r.Grid().Building(coord(3, 3))
	if b == nil || b.UnderConstruction {
		t.Fatalf("building not completed after one day: %+v", b)
	}
	if r.Grid().Parcel(coord(3, 3)).Building == nil {
		t.Fatalf("parcel not linked to completed building")
	}
	if got := rec.count(protocol.TypeBuildingCompleted); got != 1 {
		t.Fatalf("BUILDING_COMPLETED count=%d want 1", got)
	}

	complete.ID = "late"
	wantCode(t, r.Process(complete), protocol.ErrBadPhase)
	if got := rec.count(protocol.TypeBuildingCompleted); got != 1 {
		t.Fatalf("BUILDING_COMPLETED count=%d after second complete", got)
	}
}

func TestBuildStart_RequiresOwnership(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	a, _ := r.AddPlayer("alice")
	b, _ := r.AddPlayer("bob")
	mustOK(t, buy(r, "buy", a, 2, 2))
	wantCode(t, build(r, "steal", b, "park", 2, 2), protocol.ErrNotOwner)
	wantCode(t, build(r, "nope", a, "castle", 2, 2), protocol.ErrNotFound)
}

type fakeGov struct {
	budgets  map[string]int64
	treasury int64
	rate     float64
}

func (g *fakeGov) Budgets() map[string]int64 {
	out := make(map[string]int64, len(g.budgets))
	for k, v := range g.budgets {
		out[k] = v
	}
	return out
}

func (g *fakeGov) Treasury() int64 { return g.treasury }

func (g *fakeGov) SpendFromBudget(category string, amount int64, reason string) bool {
	if g.budgets[category] < amount {
		return false
	}
	g.budgets[category] -= amount
	return true
}

func (g *fakeGov) AddFunds(amount int64, reason string) { g.treasury += amount }
func (g *fakeGov) LVTRate() float64                     { return g.rate }
func (g *fakeGov) SetLVTRate(rate float64)              { g.rate = rate }

func TestBuildStart_SubsidyFromCategoryBudget(t *testing.T) {
	gov := &fakeGov{budgets: map[string]int64{"housing": 150}, rate: 0.01}
	r, _ := newTestRoom(t, func(cfg *Config, _ *tuning.Tuning) { cfg.Governance = gov })
	p, _ := r.AddPlayer("alice")
	mustOK(t, buy(r, "buy", p, 3, 3))
	cash := r.Ledger().Cash(p)

	res := mustOK(t, build(r, "start", p, "cottage", 3, 3))
	if sub, _ := res.Data["subsidy"].(int64); sub != 150 {
		t.Fatalf("subsidy=%v want 150", res.Data["subsidy"])
	}
	if got := r.Ledger().Cash(p); got != cash-250 {
		t.Fatalf("cash=%d want %d", got, cash-250)
	}
	if gov.budgets["housing"] != 0 {
		t.Fatalf("housing budget=%d want 0", gov.budgets["housing"])
	}
}

func TestPurchase_BumpsNeighbours(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	a, _ := r.AddPlayer("alice")
	b, _ := r.AddPlayer("bob")

	price := r.Grid().Parcel(coord(3, 3)).Price
	neighbour := r.Grid().Parcel(coord(2, 2)).Price
	far := r.Grid().Parcel(coord(6, 6)).Price
	cash := r.Ledger().Cash(a)

	res := mustOK(t, buy(r, "buy", a, 3, 3))
	if got, _ := res.Data["price"].(int64); got != price {
		t.Fatalf("price=%v want %d", res.Data["price"], price)
	}
	if got := r.Ledger().Cash(a); got != cash-price {
		t.Fatalf("cash=%d want %d", got, cash-price)
	}
	if got := r.Grid().Parcel(coord(2, 2)).Price; got != neighbour+r.tune.Land.PriceBump {
		t.Fatalf("neighbour price=%d want %d", got, neighbour+r.tune.Land.PriceBump)
	}
	if got := r.Grid().Parcel(coord(6, 6)).Price; got != far {
		t.Fatalf("distant price changed: %d -> %d", far, got)
	}
	wantCode(t, buy(r, "dup", b, 3, 3), protocol.ErrConflict)
}

func TestDestroyChargesFeeToTreasury(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	p, _ := r.AddPlayer("alice")
	mustOK(t, buy(r, "buy", p, 3, 3))
	mustOK(t, build(r, "start", p, "park", 3, 3))
	r.Advance(r.tune.DayTicks)

	bld := r.Grid().Building(coord(3, 3))
	if bld == nil || bld.UnderConstruction {
		t.Fatalf("park not completed")
	}
	fee := int64(ceil(r.tune.Buildings.DemolitionFeeRate * float64(bld.DepreciatedValue(300))))
	treasury := r.Governance().Treasury()
	cash := r.Ledger().Cash(p)

	res := mustOK(t, r.Process(protocol.TxIntent{ID: "rm", Type: protocol.TxDestroy, PlayerID: p, Loc: at(3, 3)}))
	if got, _ := res.Data["fee"].(int64); got != fee {
		t.Fatalf("fee=%v want %d", res.Data["fee"], fee)
	}
	if got := r.Ledger().Cash(p); got != cash-fee {
		t.Fatalf("cash=%d want %d", got, cash-fee)
	}
	if got := r.Governance().Treasury(); got != treasury+fee {
		t.Fatalf("treasury=%d want %d", got, treasury+fee)
	}
	if r.Grid().Building(coord(3, 3)) != nil || r.Grid().Parcel(coord(3, 3)).Building != nil {
		t.Fatalf("building still present after destroy")
	}
	if r.Grid().Parcel(coord(3, 3)).Owner != p {
		t.Fatalf("destroy must keep parcel ownership")
	}
}

func TestRepair(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	p, _ := r.AddPlayer("alice")
	mustOK(t, buy(r, "buy", p, 3, 3))
	mustOK(t, build(r, "start", p, "park", 3, 3))

	repair := protocol.TxIntent{ID: "fix-1", Type: protocol.TxRepair, PlayerID: p, Loc: at(3, 3)}
	wantCode(t, r.Process(repair), protocol.ErrBadPhase)

	r.Advance(3 * r.tune.DayTicks)
	bld := r.Grid().Building(coord(3, 3))
	if bld.Condition >= 1 {
		t.Fatalf("condition=%v want decay below 1", bld.Condition)
	}
	want := int64(ceil(r.tune.Buildings.RepairCostRate * 300 * (1 - bld.Condition)))
	cash := r.Ledger().Cash(p)

	repair.ID = "fix-2"
	res := mustOK(t, r.Process(repair))
	if got, _ := res.Data["cost"].(int64); got != want {
		t.Fatalf("repair cost=%v want %d", res.Data["cost"], want)
	}
	if got := r.Ledger().Cash(p); got != cash-want {
		t.Fatalf("cash=%d want %d", got, cash-want)
	}
	if bld.Condition != 1 {
		t.Fatalf("condition=%v want 1", bld.Condition)
	}
	repair.ID = "fix-3"
	wantCode(t, r.Process(repair), protocol.ErrBadRequest)
}

func TestMonthlyLVTAndRefresh(t *testing.T) {
	r, rec := newTestRoom(t, nil)
	p, _ := r.AddPlayer("alice")
	price := r.Grid().Parcel(coord(3, 3)).Price
	mustOK(t, buy(r, "buy", p, 3, 3))
	mustOK(t, r.Process(protocol.TxIntent{ID: "burn", Type: protocol.TxSpendActions, PlayerID: p, Quantity: 5}))
	cash := r.Ledger().Cash(p)

	r.Advance(r.tune.MonthDays * r.tune.DayTicks)

	tax := int64(round(float64(price) * r.tune.Governance.BaseLVTRate))
	if got := r.Ledger().Cash(p); got != cash-tax {
		t.Fatalf("cash after LVT=%d want %d", got, cash-tax)
	}
	msg, ok := rec.last(protocol.TypeMonthlyUpdate)
	if !ok {
		t.Fatalf("no MONTHLY_UPDATE")
	}
	mu, _ := msg.Data.(protocol.MonthlyUpdate)
	if mu.Month != 1 || mu.LVTCollected != tax {
		t.Fatalf("monthly update=%+v want month 1 lvt %d", mu, tax)
	}

	allowance := r.tune.Ledger.BaseMonthlyActions - r.tune.Ledger.ActionDecayPerMonth
	pl := r.Ledger().Get(p)
	if pl.Actions.Monthly != allowance {
		t.Fatalf("monthly actions=%d want %d", pl.Actions.Monthly, allowance)
	}
	if pl.VotingPoints != r.tune.Ledger.InGameVotingPoints+r.tune.Ledger.MonthlyVotingPoints {
		t.Fatalf("voting points=%d", pl.VotingPoints)
	}

	var funds int64
	for _, v := range r.Governance().Budgets() {
		funds += v
	}
	funds += r.Governance().Treasury()
	if funds != tax {
		t.Fatalf("treasury plus budgets=%d want %d", funds, tax)
	}
}

func TestListingCancel_MonthlyActionsStayMonthly(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	p, _ := r.AddPlayer("alice")
	monthTicks := r.tune.MonthDays * r.tune.DayTicks

	list := func(id string, qty int) string {
		t.Helper()
		res := mustOK(t, r.Process(protocol.TxIntent{
			ID: id, Type: protocol.TxListingCreate, PlayerID: p, Quantity: qty, ReservePrice: 1_000_000,
		}))
		lid, _ := res.Data["listingId"].(string)
		return lid
	}

	for month := 0; month < 4; month++ {
		pool := r.Ledger().Get(p).Actions.Monthly
		if pool != r.Ledger().Allowance(month) {
			t.Fatalf("month %d: monthly=%d want %d", month, pool, r.Ledger().Allowance(month))
		}
		lid := list(fmt.Sprintf("list-%d", month), pool)
		mustOK(t, r.Process(protocol.TxIntent{
			ID: fmt.Sprintf("cancel-%d", month), Type: protocol.TxListingCancel, PlayerID: p, ListingID: lid,
		}))
		if got := r.Ledger().Get(p).Actions; got != (ledger.Actions{Monthly: pool}) {
			t.Fatalf("month %d: actions after cancel=%+v want %d monthly", month, got, pool)
		}
		r.Advance(monthTicks)
	}

	// A listing left open past its month returns nothing from the old pool.
	lid := list("list-open", r.Ledger().Get(p).Actions.Monthly)
	r.Advance(monthTicks)
	if st := r.market.Get(lid).Status; st != market.StatusReturned {
		t.Fatalf("listing status=%s want returned", st)
	}
	want := ledger.Actions{Monthly: r.Ledger().Allowance(5)}
	if got := r.Ledger().Get(p).Actions; got != want {
		t.Fatalf("actions=%+v want %+v", got, want)
	}
	if got := r.Ledger().Cash(p); got != r.tune.Ledger.StartingBalance {
		t.Fatalf("cash=%d want %d", got, r.tune.Ledger.StartingBalance)
	}
}

func TestGovernanceVote(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	p, _ := r.AddPlayer("alice")
	pts := r.Ledger().Get(p).VotingPoints
	if pts != r.tune.Ledger.InGameVotingPoints {
		t.Fatalf("voting points after start=%d want %d", pts, r.tune.Ledger.InGameVotingPoints)
	}

	wantCode(t, r.Process(protocol.TxIntent{ID: "bad", Type: protocol.TxGovernanceVote, PlayerID: p, Category: "casinos", Points: 1}), protocol.ErrBadRequest)
	mustOK(t, r.Process(protocol.TxIntent{ID: "v1", Type: protocol.TxGovernanceVote, PlayerID: p, Category: "lvt_raise", Points: pts}))

	want := r.tune.Governance.BaseLVTRate + float64(pts)*r.tune.Governance.LVTStep
	if got := r.Governance().LVTRate(); !approx(got, want) {
		t.Fatalf("lvt rate=%v want %v", got, want)
	}
	wantCode(t, r.Process(protocol.TxIntent{ID: "v2", Type: protocol.TxGovernanceVote, PlayerID: p, Category: "education", Points: 1}), protocol.ErrNoActions)
}

func TestAuctionDeclineTransfersParcel(t *testing.T) {
	r, rec := newTestRoom(t, func(_ *Config, tu *tuning.Tuning) {
		tu.Auction.DurationSeconds = 1
		tu.Auction.SnipeWindowSeconds = 0
		tu.Auction.ResponseSeconds = 1
	})
	owner, _ := r.AddPlayer("alice")
	raider, _ := r.AddPlayer("bob")
	price := r.Grid().Parcel(coord(2, 2)).Price
	mustOK(t, buy(r, "buy", owner, 2, 2))

	res := mustOK(t, r.Process(protocol.TxIntent{ID: "au", Type: protocol.TxAuctionStart, PlayerID: raider, Loc: at(2, 2)}))
	id, _ := res.Data["auctionId"].(string)
	if id == "" {
		t.Fatalf("no auction id in %+v", res.Data)
	}
	if r.Grid().Parcel(coord(2, 2)).UnderAuction != id {
		t.Fatalf("parcel not marked under auction")
	}
	wantCode(t, buy(r, "snipe", raider, 2, 2), protocol.ErrConflict)

	bid := price + 50
	wantCode(t, r.Process(protocol.TxIntent{ID: "own", Type: protocol.TxAuctionBid, PlayerID: owner, AuctionID: id, Amount: bid}), protocol.ErrConflict)
	mustOK(t, r.Process(protocol.TxIntent{ID: "bid", Type: protocol.TxAuctionBid, PlayerID: raider, AuctionID: id, Amount: bid}))
	ownerCash := r.Ledger().Cash(owner)
	raiderCash := r.Ledger().Cash(raider)

	respond := protocol.TxIntent{ID: "early", Type: protocol.TxAuctionRespond, PlayerID: owner, AuctionID: id, Response: protocol.ResponseDecline}
	wantCode(t, r.Process(respond), protocol.ErrBadPhase)

	r.Advance(int(r.tune.SecondsToTicks(1)))
	if a := r.Auctions().Get(id); a.Phase != "owner_response" {
		t.Fatalf("phase=%s want owner_response", a.Phase)
	}
	respond.ID = "decline"
	res = mustOK(t, r.Process(respond))
	if got, _ := res.Data["outcome"].(string); got != "transferred" {
		t.Fatalf("outcome=%v want transferred", res.Data["outcome"])
	}

	parcel := r.Grid().Parcel(coord(2, 2))
	if parcel.Owner != raider || parcel.UnderAuction != "" {
		t.Fatalf("parcel=%+v want owner %s", parcel, raider)
	}
	if got := r.Ledger().Cash(owner); got != ownerCash+bid {
		t.Fatalf("owner cash=%d want %d", got, ownerCash+bid)
	}
	if got := r.Ledger().Cash(raider); got != raiderCash {
		t.Fatalf("raider cash=%d want %d", got, raiderCash)
	}
	if parcel.ProtectedUntilTick <= r.CurrentTick() {
		t.Fatalf("parcel not protected after transfer")
	}
	wantCode(t, r.Process(protocol.TxIntent{ID: "back", Type: protocol.TxAuctionStart, PlayerID: owner, Loc: at(2, 2)}), protocol.ErrProtected)

	msg, ok := rec.last(protocol.TypeParcelAuctionUpdate)
	if !ok || msg.Subtype != protocol.AuctionCompleted {
		t.Fatalf("last auction update=%+v", msg)
	}
}

// cityFunds is the treasury plus every category budget.
func cityFunds(r *Room) int64 {
	total := r.Governance().Treasury()
	for _, v := range r.Governance().Budgets() {
		total += v
	}
	return total
}

func TestDepartedBidderRefundGoesToTreasury(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	seller, _ := r.AddPlayer("sam")
	alice, _ := r.AddPlayer("alice")
	bob, _ := r.AddPlayer("bob")

	res := mustOK(t, r.Process(protocol.TxIntent{ID: "list", Type: protocol.TxListingCreate, PlayerID: seller, Quantity: 2, ReservePrice: 100}))
	lid, _ := res.Data["listingId"].(string)
	mustOK(t, r.Process(protocol.TxIntent{ID: "bid-a", Type: protocol.TxListingBid, PlayerID: alice, ListingID: lid, Amount: 100}))
	funds := cityFunds(r)

	if !r.RemovePlayer(alice) {
		t.Fatalf("remove failed")
	}
	mustOK(t, r.Process(protocol.TxIntent{ID: "bid-b", Type: protocol.TxListingBid, PlayerID: bob, ListingID: lid, Amount: 110}))
	if got := cityFunds(r); got != funds+100 {
		t.Fatalf("city funds=%d want %d", got, funds+100)
	}
	if r.Ledger().Get(alice) != nil {
		t.Fatalf("refund recreated the departed player")
	}
}

func TestAuctionPayoutToDepartedOwnerGoesToTreasury(t *testing.T) {
	r, _ := newTestRoom(t, func(_ *Config, tu *tuning.Tuning) {
		tu.Auction.DurationSeconds = 1
		tu.Auction.SnipeWindowSeconds = 0
		tu.Auction.ResponseSeconds = 1
	})
	owner, _ := r.AddPlayer("alice")
	raider, _ := r.AddPlayer("bob")
	price := r.Grid().Parcel(coord(2, 2)).Price
	mustOK(t, buy(r, "buy", owner, 2, 2))

	res := mustOK(t, r.Process(protocol.TxIntent{ID: "au", Type: protocol.TxAuctionStart, PlayerID: raider, Loc: at(2, 2)}))
	id, _ := res.Data["auctionId"].(string)
	bid := price + 50
	mustOK(t, r.Process(protocol.TxIntent{ID: "bid", Type: protocol.TxAuctionBid, PlayerID: raider, AuctionID: id, Amount: bid}))
	funds := cityFunds(r)

	if !r.RemovePlayer(owner) {
		t.Fatalf("remove failed")
	}
	r.Advance(2*int(r.tune.SecondsToTicks(1)) + 1)

	if a := r.Auctions().Get(id); a.Outcome != "transferred" {
		t.Fatalf("auction=%+v want transferred", a)
	}
	if got := r.Grid().Parcel(coord(2, 2)).Owner; got != raider {
		t.Fatalf("parcel owner=%s want %s", got, raider)
	}
	if got := cityFunds(r); got != funds+bid {
		t.Fatalf("city funds=%d want %d", got, funds+bid)
	}
}

func TestVictoryEndsGame(t *testing.T) {
	r, rec := newTestRoom(t, func(cfg *Config, _ *tuning.Tuning) { cfg.VictoryDay = 2 })
	a, _ := r.AddPlayer("alice")
	b, _ := r.AddPlayer("bob")
	mustOK(t, buy(r, "buy", a, 3, 3))
	mustOK(t, build(r, "park", a, "park", 3, 3))

	r.Advance(2 * r.tune.DayTicks)
	if !r.GameOver() {
		t.Fatalf("game not over on victory day")
	}
	v, ok := r.Victory()
	if !ok || v.Day != 2 {
		t.Fatalf("victory=%+v ok=%v", v, ok)
	}
	if len(v.Leaderboard) != 2 || v.Leaderboard[0].PlayerID != a || v.Leaderboard[0].Rank != 1 {
		t.Fatalf("leaderboard=%+v want %s first", v.Leaderboard, a)
	}
	if v.Leaderboard[1].PlayerID != b {
		t.Fatalf("leaderboard second=%s want %s", v.Leaderboard[1].PlayerID, b)
	}
	if rec.count(protocol.TypeGameVictory) != 1 {
		t.Fatalf("GAME_VICTORY count=%d", rec.count(protocol.TypeGameVictory))
	}

	tick := r.CurrentTick()
	r.Advance(5)
	if r.CurrentTick() != tick {
		t.Fatalf("clock advanced after victory: %d -> %d", tick, r.CurrentTick())
	}
	wantCode(t, buy(r, "after", b, 5, 5), protocol.ErrGameOver)
}

func TestTickWaitsForStart(t *testing.T) {
	r, _ := newTestRoom(t, func(cfg *Config, _ *tuning.Tuning) { cfg.StartPlayers = 2 })
	r.AddPlayer("alice")
	r.Advance(5)
	if r.CurrentTick() != 0 || r.Started() {
		t.Fatalf("clock ran before start: tick=%d started=%v", r.CurrentTick(), r.Started())
	}
	r.AddPlayer("bob")
	if !r.Started() {
		t.Fatalf("game did not start with two players")
	}
	r.Advance(5)
	if r.CurrentTick() != 5 {
		t.Fatalf("tick=%d want 5", r.CurrentTick())
	}
}

func TestRemovePlayerKeepsParcels(t *testing.T) {
	r, rec := newTestRoom(t, nil)
	p, token := r.AddPlayer("alice")
	mustOK(t, buy(r, "buy", p, 1, 1))

	if !r.RemovePlayer(p) {
		t.Fatalf("remove failed")
	}
	if r.Ledger().Get(p) != nil {
		t.Fatalf("player still in ledger")
	}
	if r.Grid().Parcel(coord(1, 1)).Owner != p {
		t.Fatalf("parcel ownership lost on leave")
	}
	resp := r.joinOrResume(JoinRequest{ResumeToken: token})
	if resp.Err == nil || resp.Err.Code != protocol.ErrNotFound {
		t.Fatalf("resume after removal err=%v want %s", resp.Err, protocol.ErrNotFound)
	}

	r.flushDelta()
	msg, ok := rec.last(protocol.TypeGameStateDelta)
	if !ok {
		t.Fatalf("no delta after removal")
	}
	d, _ := msg.Data.(protocol.GameStateDelta)
	if len(d.RemovedPlayers) != 1 || d.RemovedPlayers[0] != p {
		t.Fatalf("removed players=%v want [%s]", d.RemovedPlayers, p)
	}
}

func TestJoinResumeKeepsIdentity(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	first := r.joinOrResume(JoinRequest{Name: "alice"})
	if first.Err != nil {
		t.Fatalf("join: %v", first.Err)
	}
	again := r.joinOrResume(JoinRequest{ResumeToken: first.Welcome.ResumeToken})
	if again.Err != nil {
		t.Fatalf("resume: %v", again.Err)
	}
	if again.Welcome.PlayerID != first.Welcome.PlayerID {
		t.Fatalf("resume player=%s want %s", again.Welcome.PlayerID, first.Welcome.PlayerID)
	}
	if r.Ledger().Len() != 1 {
		t.Fatalf("resume created a second player")
	}
	if again.State.RoomID != "room_test" || len(again.State.Players) != 1 {
		t.Fatalf("state room=%s players=%d", again.State.RoomID, len(again.State.Players))
	}
}
