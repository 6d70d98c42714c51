package room

import (
	"errors"

	"github.com/google/uuid"

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/room/economy"
	"gridcity.ai/internal/sim/room/grid"
	"gridcity.ai/internal/sim/room/population"
)

// Process validates and applies one transaction intent and returns its
// result. It must be called from the room goroutine (or the only goroutine
// when Run is not used).
func (r *Room) Process(in protocol.TxIntent) protocol.TxResult {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := r.tick.Load()
	res := protocol.TxResult{TransactionID: in.ID, GameTime: r.gameTime(now)}

	if r.seen.Has(in.ID) {
		r.stats.duplicate++
		return r.fail(res, protocol.Reject(protocol.ErrDuplicateTx, "transaction %s already processed", in.ID))
	}
	if !in.Type.Valid() {
		return r.fail(res, protocol.Reject(protocol.ErrUnknownTx, "unknown transaction type %q", in.Type))
	}
	if r.gameOver {
		return r.fail(res, protocol.Reject(protocol.ErrGameOver, "the game is over"))
	}
	if in.PlayerID == "" {
		return r.fail(res, protocol.Reject(protocol.ErrBadRequest, "missing player id"))
	}
	if r.ledger.Get(in.PlayerID) == nil {
		r.ledger.Ensure(in.PlayerID, "", now)
		r.touchPlayer(in.PlayerID)
		r.maybeStart()
	}

	cost := r.actionCost(in)
	if err := r.ledger.CheckActions(in.PlayerID, cost); err != nil {
		return r.fail(res, err)
	}
	data, err := r.dispatchSafe(in, now)
	if err != nil {
		return r.fail(res, err)
	}
	r.ledger.SpendActions(in.PlayerID, cost)
	r.ledger.Record(in.PlayerID, in.ID)
	r.touchPlayer(in.PlayerID)

	if in.Type.AffectsBuildings() {
		r.recalcGlobal(now)
		r.refreshPerformance()
	}

	r.seen.Add(in.ID)
	bal := r.ledger.Cash(in.PlayerID)
	res.Success = true
	res.NewBalance = &bal
	res.Data = data
	r.remember(TxRecord{Tick: now, Intent: in, Result: res})
	r.stats.accepted++

	if r.txLogger != nil {
		if err := r.txLogger.WriteTx(TxLogEntry{Tick: now, RoomID: r.cfg.ID, Intent: in, Result: res}); err != nil {
			r.logger.Printf("txlog: %v", err)
		}
	}
	r.emit(protocol.TypeTransactionComplete, "", protocol.TransactionComplete{Transaction: in, Result: res})
	r.flushDelta()
	return res
}

func (r *Room) fail(res protocol.TxResult, err error) protocol.TxResult {
	r.stats.rejected++
	res.Success = false
	res.Code = protocol.CodeOf(err)
	var te *TxError
	if errors.As(err, &te) {
		res.Error = te.Msg
	} else {
		res.Error = err.Error()
	}
	return res
}

// actionCost is the number of actions a transaction consumes on success.
func (r *Room) actionCost(in protocol.TxIntent) int {
	if in.Type == protocol.TxSpendActions {
		return in.Quantity
	}
	return r.tune.ActionCosts[string(in.Type)]
}

func (r *Room) remember(rec TxRecord) {
	r.history = append(r.history, rec)
	if n := len(r.history) - r.tune.HistorySize; r.tune.HistorySize > 0 && n > 0 {
		r.history = append(r.history[:0:0], r.history[n:]...)
	}
}

func (r *Room) dispatchSafe(in protocol.TxIntent, now uint64) (data map[string]any, err error) {
	defer func() {
		if v := recover(); v != nil {
			r.stats.panics++
			r.logger.Printf("panic in %s %s: %v", in.Type, in.ID, v)
			data = nil
			err = protocol.Reject(protocol.ErrInternal, "internal error processing %s", in.Type)
		}
	}()
	return r.dispatch(in, now)
}

func (r *Room) dispatch(in protocol.TxIntent, now uint64) (map[string]any, error) {
	switch in.Type {
	case protocol.TxBuildStart:
		return r.handleBuildStart(in, now)
	case protocol.TxBuildComplete:
		return r.handleBuildComplete(in, now)
	case protocol.TxDestroy:
		return r.handleDestroy(in, now)
	case protocol.TxRepair:
		return r.handleRepair(in, now)
	case protocol.TxPurchaseParcel:
		return r.handlePurchaseParcel(in, now)
	case protocol.TxSpendCash:
		return r.handleSpendCash(in, now)
	case protocol.TxGovernanceVote:
		return r.handleGovernanceVote(in, now)
	case protocol.TxListingCreate:
		return r.handleListingCreate(in, now)
	case protocol.TxListingBid:
		return r.handleListingBid(in, now)
	case protocol.TxListingBuyNow:
		return r.handleListingBuyNow(in, now)
	case protocol.TxListingCancel:
		return r.handleListingCancel(in, now)
	case protocol.TxListingEndEarly:
		return r.handleListingEndEarly(in, now)
	case protocol.TxAuctionStart:
		return r.handleAuctionStart(in, now)
	case protocol.TxAuctionBid:
		return r.handleAuctionBid(in, now)
	case protocol.TxAuctionRespond:
		return r.handleAuctionRespond(in, now)
	case protocol.TxSpendActions:
		return r.handleSpendActions(in, now)
	}
	return nil, protocol.Reject(protocol.ErrUnknownTx, "unknown transaction type %q", in.Type)
}

// locOf reads the intent location. Bounds are checked by the handlers.
func locOf(in protocol.TxIntent) (grid.Coord, error) {
	if in.Loc == nil {
		return grid.Coord{}, protocol.Reject(protocol.ErrBadRequest, "%s requires loc", in.Type)
	}
	return grid.FromArray(*in.Loc), nil
}

// recalcGlobal refreshes the city-wide indices and attractiveness.
func (r *Room) recalcGlobal(now uint64) {
	r.jeefhh, r.carens = r.econ.Global(now, r.pop.Cohorts)
	r.attract = population.Attractiveness(r.jeefhh, r.carens)
	r.delta.indices = true
}

func (r *Room) ubi() float64 {
	return economy.UBIMultiplier(r.gov.Budgets()[r.tune.Economy.UBICategory], r.pop.Total())
}

// refreshPerformance recomputes every completed building's revenue and
// maintenance and the per-owner daily cashflow projection.
func (r *Room) refreshPerformance() {
	global := r.jeefhh.Global
	ubi := r.ubi()
	flows := map[string]protocol.CashflowView{}
	for _, b := range r.grid.Buildings() {
		perf := r.econ.Performance(b, global, ubi)
		if perf != b.Perf {
			b.Perf = perf
			r.delta.building(b.Loc)
		}
		if b.UnderConstruction {
			continue
		}
		cf := flows[b.Owner]
		cf.Revenue += perf.Revenue
		cf.Maintenance += perf.Maintenance
		cf.Net = cf.Revenue - cf.Maintenance
		flows[b.Owner] = cf
	}
	r.cashflow = flows
}
