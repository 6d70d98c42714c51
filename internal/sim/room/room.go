package room

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"gridcity.ai/internal/persistence/snapshot"
	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/room/auction"
	"gridcity.ai/internal/sim/room/economy"
	"gridcity.ai/internal/sim/room/governance"
	"gridcity.ai/internal/sim/room/grid"
	"gridcity.ai/internal/sim/room/ledger"
	"gridcity.ai/internal/sim/room/market"
	"gridcity.ai/internal/sim/room/population"
	"gridcity.ai/internal/sim/tuning"
)

// TxError is the rejection type every handler returns.
type TxError = protocol.TxError

// Governance is the city government a room calls into for subsidies,
// fees and the land value tax rate.
type Governance interface {
	Budgets() map[string]int64
	Treasury() int64
	SpendFromBudget(category string, amount int64, reason string) bool
	AddFunds(amount int64, reason string)
	LVTRate() float64
	SetLVTRate(rate float64)
}

// budgeting is implemented by governments that collect LVT separately
// and fund budgets from player votes. *governance.Council implements it.
type budgeting interface {
	RecordLVT(amount int64)
	Distribute(tally map[string]int) map[string]int64
	VotedLVTRate(tally map[string]int) float64
	ValidCategory(category string) bool
	Stats() governance.Stats
}

// BroadcastFunc receives every message the room emits.
type BroadcastFunc func(msg protocol.Message)

type TxLogger interface {
	WriteTx(entry TxLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type VictoryRecorder interface {
	RecordVictory(roomID string, tick uint64, v protocol.Victory)
}

// TxLogEntry is one accepted transaction, in processing order.
type TxLogEntry struct {
	Tick   uint64            `json:"tick"`
	RoomID string            `json:"room_id"`
	Intent protocol.TxIntent `json:"intent"`
	Result protocol.TxResult `json:"result"`
}

// AuditEntry records an ownership or money movement worth keeping.
type AuditEntry struct {
	Tick   uint64 `json:"tick"`
	RoomID string `json:"room_id"`
	Actor  string `json:"actor"`
	Action string `json:"action"` // e.g. "PARCEL_TRANSFER"
	Loc    [2]int `json:"loc"`
	Amount int64  `json:"amount,omitempty"`
	Target string `json:"target,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// TxRecord is one entry of the in-memory transaction history.
type TxRecord struct {
	Tick   uint64
	Intent protocol.TxIntent
	Result protocol.TxResult
}

type SubmitRequest struct {
	Intent protocol.TxIntent
	Resp   chan protocol.TxResult
}

type JoinRequest struct {
	Name        string
	ResumeToken string
	// Observe asks for the current state only: no player is created and
	// no client is attached.
	Observe     bool
	Out         chan []byte
	Resp        chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	State   protocol.GameState
	Err     *TxError
}

type LeaveRequest struct {
	PlayerID string
	// Remove drops the player from the ledger as well as detaching the
	// client. Parcels stay owned.
	Remove bool
}

type clientState struct {
	Out chan []byte
}

// Room is a single-threaded authoritative city simulation.
// All state must be accessed only from the room loop goroutine, or from a
// single goroutine when Run is not used.
type Room struct {
	cfg  Config
	tune tuning.Tuning
	cats *catalogs.Catalogs

	logger *log.Logger

	tick atomic.Uint64

	grid     *grid.Grid
	ledger   *ledger.Ledger
	econ     *economy.Cache
	pop      population.State
	market   *market.Book
	auctions *auction.House
	gov      Governance

	jeefhh   economy.JEEFHH
	carens   economy.CARENS
	attract  float64
	cashflow map[string]protocol.CashflowView

	lastDay  int
	gameOver bool
	victory  *protocol.Victory

	seen    *seenSet
	history []TxRecord

	tokens  map[string]string // resume token -> player id
	clients map[string]*clientState

	inbox    chan SubmitRequest
	join     chan JoinRequest
	leave    chan LeaveRequest
	snapReq  chan chan uint64
	stop     chan struct{}
	stopOnce sync.Once

	nextPlayerNum   atomic.Uint64
	nextBuildingNum atomic.Uint64
	nextListingNum  atomic.Uint64
	nextAuctionNum  atomic.Uint64

	broadcast    BroadcastFunc
	txLogger     TxLogger
	auditLogger  AuditLogger
	victoryRec   VictoryRecorder
	snapshotSink chan<- snapshot.SnapshotV1

	delta   deltaSet
	stats   counters
	metrics atomic.Value
}

func New(cfg Config, tune tuning.Tuning, cats *catalogs.Catalogs) (*Room, error) {
	if cats == nil {
		return nil, fmt.Errorf("room %s: nil catalogs", cfg.ID)
	}
	cfg.applyDefaults(tune)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tune.GridSize = cfg.GridSize

	r := &Room{
		cfg:      cfg,
		tune:     tune,
		cats:     cats,
		logger:   cfg.Logger,
		cashflow: map[string]protocol.CashflowView{},
		seen:     newSeenSet(tune.SeenTxCapacity),
		tokens:   map[string]string{},
		clients:  map[string]*clientState{},
		inbox:    make(chan SubmitRequest, 256),
		join:     make(chan JoinRequest, 32),
		leave:    make(chan LeaveRequest, 32),
		snapReq:  make(chan chan uint64, 4),
		stop:     make(chan struct{}),
		delta:    newDeltaSet(),
	}
	if r.logger == nil {
		r.logger = log.New(io.Discard, "", 0)
	}
	r.grid = grid.New(cfg.GridSize, grid.PriceConfig{
		Center: tune.Land.CenterPrice,
		Edge:   tune.Land.EdgePrice,
		Bump:   tune.Land.PriceBump,
	})
	r.ledger = ledger.New(ledger.ParamsFromTuning(tune, cfg.SinglePlayer))
	r.econ = economy.NewCache(economy.ParamsFromTuning(tune), &cats.Buildings, r.grid)
	r.market = market.NewBook(market.ParamsFromTuning(tune), r.newListingID)
	r.auctions = auction.NewHouse(auction.ParamsFromTuning(tune), r.newAuctionID, r.parcelValue)
	r.gov = cfg.Governance
	if r.gov == nil {
		r.gov = governance.NewCouncil(governance.ParamsFromTuning(tune))
	}
	r.broadcast = cfg.Broadcast
	r.ledger.SetOrphanSink(r.orphanedCredit)

	r.recalcGlobal(0)
	r.publishMetrics(0)
	return r, nil
}

func (r *Room) ID() string {
	if r == nil {
		return ""
	}
	return r.cfg.ID
}

func (r *Room) Config() Config { return r.cfg }

func (r *Room) CurrentTick() uint64 { return r.tick.Load() }

// GameTime is the current time in fractional game days.
func (r *Room) GameTime() float64 { return r.gameTime(r.tick.Load()) }

func (r *Room) gameTime(tick uint64) float64 {
	return float64(tick) / float64(r.tune.DayTicks)
}

func (r *Room) gameDay(tick uint64) int { return int(tick / uint64(r.tune.DayTicks)) }

func (r *Room) Started() bool  { return r.ledger.Started() }
func (r *Room) GameOver() bool { return r.gameOver }

func (r *Room) Ledger() *ledger.Ledger   { return r.ledger }
func (r *Room) Grid() *grid.Grid         { return r.grid }
func (r *Room) Governance() Governance   { return r.gov }
func (r *Room) Market() *market.Book     { return r.market }
func (r *Room) Auctions() *auction.House { return r.auctions }
func (r *Room) Population() population.State {
	return r.pop
}

// History returns accepted transactions, oldest first.
func (r *Room) History() []TxRecord {
	return append([]TxRecord(nil), r.history...)
}

func (r *Room) SetBroadcast(fn BroadcastFunc)        { r.broadcast = fn }
func (r *Room) SetTxLogger(l TxLogger)               { r.txLogger = l }
func (r *Room) SetAuditLogger(l AuditLogger)         { r.auditLogger = l }
func (r *Room) SetVictoryRecorder(v VictoryRecorder) { r.victoryRec = v }

// SetSnapshotSink enables periodic snapshots. Writing happens off the
// room goroutine; a full sink drops the snapshot.
func (r *Room) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { r.snapshotSink = ch }

func (r *Room) newPlayerID() string {
	n := r.nextPlayerNum.Add(1)
	return fmt.Sprintf("P%04d", n)
}

func (r *Room) newBuildingID() string {
	n := r.nextBuildingNum.Add(1)
	return fmt.Sprintf("B%06d", n)
}

func (r *Room) newListingID() string {
	n := r.nextListingNum.Add(1)
	return fmt.Sprintf("L%06d", n)
}

func (r *Room) newAuctionID() string {
	n := r.nextAuctionNum.Add(1)
	return fmt.Sprintf("AU%06d", n)
}

// parcelValue is the depreciated value of the building at loc, if any.
func (r *Room) parcelValue(loc grid.Coord) int64 {
	b := r.grid.Building(loc)
	if b == nil {
		return 0
	}
	def, ok := r.cats.Buildings.Get(b.Type)
	if !ok {
		return 0
	}
	return b.DepreciatedValue(def.Economics.BuildCost)
}

// orphanedCredit moves money owed to a departed player into the treasury.
func (r *Room) orphanedCredit(id string, amount int64) {
	r.gov.AddFunds(amount, "orphaned_credit:"+id)
	r.delta.governance = true
	r.audit(AuditEntry{Actor: id, Action: "ORPHANED_CREDIT", Amount: amount})
}

func (r *Room) audit(e AuditEntry) {
	if r.auditLogger == nil {
		return
	}
	e.RoomID = r.cfg.ID
	if e.Tick == 0 {
		e.Tick = r.tick.Load()
	}
	if err := r.auditLogger.WriteAudit(e); err != nil {
		r.logger.Printf("audit: %v", err)
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
