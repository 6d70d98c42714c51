package room

import (
	"math"

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/room/grid"
)

func (r *Room) handleBuildStart(in protocol.TxIntent, now uint64) (map[string]any, error) {
	loc, err := locOf(in)
	if err != nil {
		return nil, err
	}
	def, ok := r.cats.Buildings.Get(in.BuildingType)
	if !ok {
		return nil, protocol.Reject(protocol.ErrNotFound, "unknown building type %q", in.BuildingType)
	}
	if err := r.grid.CheckBuildSite(loc, in.PlayerID); err != nil {
		return nil, err
	}
	full := def.Economics.BuildCost
	subsidy := min(max(r.gov.Budgets()[def.Category], 0), full)
	if err := r.ledger.CheckFunds(in.PlayerID, full-subsidy); err != nil {
		return nil, err
	}
	if subsidy > 0 && !r.gov.SpendFromBudget(def.Category, subsidy, "build_subsidy:"+def.ID) {
		// The budget moved under us; charge the full cost if affordable.
		subsidy = 0
		if err := r.ledger.CheckFunds(in.PlayerID, full); err != nil {
			return nil, err
		}
	}
	cost := full - subsidy
	r.ledger.Debit(in.PlayerID, cost)

	b := &grid.Building{
		ID:                r.newBuildingID(),
		Type:              def.ID,
		Category:          def.Category,
		Owner:             in.PlayerID,
		Loc:               loc,
		UnderConstruction: true,
		StartTick:         now,
		ConstructionTicks: uint64(math.Ceil(def.Economics.ConstructionDays * float64(r.tune.DayTicks))),
		Condition:         1,
	}
	r.grid.Place(b)
	r.delta.building(loc)
	r.delta.parcel(loc)
	if subsidy > 0 {
		r.delta.governance = true
	}
	r.audit(AuditEntry{Actor: in.PlayerID, Action: "BUILD_START", Loc: loc.Array(), Amount: cost, Target: b.ID, Reason: def.ID})

	if b.ConstructionTicks == 0 {
		r.completeBuilding(b, now)
	}
	return map[string]any{
		"buildingId":      b.ID,
		"cost":            cost,
		"subsidy":         subsidy,
		"completesAtTick": b.StartTick + b.ConstructionTicks,
	}, nil
}

func (r *Room) handleBuildComplete(in protocol.TxIntent, now uint64) (map[string]any, error) {
	loc, err := locOf(in)
	if err != nil {
		return nil, err
	}
	b, err := r.grid.CheckOwnedBuilding(loc, in.PlayerID)
	if err != nil {
		return nil, err
	}
	if !b.UnderConstruction {
		return nil, protocol.Reject(protocol.ErrBadPhase, "building %s is already complete", b.ID)
	}
	if !b.Ready(now) {
		return nil, protocol.Reject(protocol.ErrNotReady, "building %s completes at tick %d", b.ID, b.StartTick+b.ConstructionTicks)
	}
	r.completeBuilding(b, now)
	return map[string]any{"buildingId": b.ID}, nil
}

func (r *Room) handleDestroy(in protocol.TxIntent, now uint64) (map[string]any, error) {
	loc, err := locOf(in)
	if err != nil {
		return nil, err
	}
	b, err := r.grid.CheckOwnedBuilding(loc, in.PlayerID)
	if err != nil {
		return nil, err
	}
	fee := int64(math.Ceil(r.tune.Buildings.DemolitionFeeRate * float64(r.parcelValue(loc))))
	if err := r.ledger.CheckFunds(in.PlayerID, fee); err != nil {
		return nil, err
	}

	r.ledger.Debit(in.PlayerID, fee)
	r.gov.AddFunds(fee, "demolition_fee")
	r.grid.Remove(loc)
	delete(r.pop.Distribution, loc)
	r.econ.InvalidateAround(loc)
	r.delta.removeBuilding(loc)
	r.delta.governance = true
	r.audit(AuditEntry{Actor: in.PlayerID, Action: "DESTROY", Loc: loc.Array(), Amount: fee, Target: b.ID})
	return map[string]any{"buildingId": b.ID, "fee": fee}, nil
}

func (r *Room) handleRepair(in protocol.TxIntent, now uint64) (map[string]any, error) {
	loc, err := locOf(in)
	if err != nil {
		return nil, err
	}
	b, err := r.grid.CheckOwnedBuilding(loc, in.PlayerID)
	if err != nil {
		return nil, err
	}
	if b.UnderConstruction {
		return nil, protocol.Reject(protocol.ErrBadPhase, "building %s is under construction", b.ID)
	}
	if b.Condition >= 1 {
		return nil, protocol.Reject(protocol.ErrBadRequest, "building %s needs no repair", b.ID)
	}
	def, ok := r.cats.Buildings.Get(b.Type)
	if !ok {
		return nil, protocol.Reject(protocol.ErrNotFound, "unknown building type %q", b.Type)
	}
	cost := int64(math.Ceil(r.tune.Buildings.RepairCostRate * float64(def.Economics.BuildCost) * (1 - b.Condition)))
	if err := r.ledger.CheckFunds(in.PlayerID, cost); err != nil {
		return nil, err
	}

	r.ledger.Debit(in.PlayerID, cost)
	b.Condition = 1
	r.delta.building(loc)
	r.audit(AuditEntry{Actor: in.PlayerID, Action: "REPAIR", Loc: loc.Array(), Amount: cost, Target: b.ID})
	return map[string]any{"buildingId": b.ID, "cost": cost}, nil
}

func (r *Room) handlePurchaseParcel(in protocol.TxIntent, now uint64) (map[string]any, error) {
	loc, err := locOf(in)
	if err != nil {
		return nil, err
	}
	price, err := r.grid.CheckPurchase(loc)
	if err != nil {
		return nil, err
	}
	if err := r.ledger.CheckFunds(in.PlayerID, price); err != nil {
		return nil, err
	}

	r.ledger.Debit(in.PlayerID, price)
	bumped := r.grid.CommitPurchase(loc, in.PlayerID, now)
	r.delta.parcel(loc)
	for _, c := range bumped {
		r.delta.parcel(c)
	}
	r.audit(AuditEntry{Actor: in.PlayerID, Action: "PARCEL_PURCHASE", Loc: loc.Array(), Amount: price})
	return map[string]any{"price": price, "bumped": len(bumped)}, nil
}

func (r *Room) handleSpendCash(in protocol.TxIntent, now uint64) (map[string]any, error) {
	if in.Amount <= 0 {
		return nil, protocol.Reject(protocol.ErrBadRequest, "amount must be positive")
	}
	if err := r.ledger.CheckFunds(in.PlayerID, in.Amount); err != nil {
		return nil, err
	}
	r.ledger.Debit(in.PlayerID, in.Amount)
	return map[string]any{"amount": in.Amount, "reason": in.Reason}, nil
}

func (r *Room) handleSpendActions(in protocol.TxIntent, now uint64) (map[string]any, error) {
	if in.Quantity <= 0 {
		return nil, protocol.Reject(protocol.ErrBadRequest, "quantity must be positive")
	}
	// The processor spends the quantity as this transaction's action cost.
	return map[string]any{"quantity": in.Quantity, "reason": in.Reason}, nil
}

// completeBuilding finishes construction at most once and announces it.
func (r *Room) completeBuilding(b *grid.Building, now uint64) bool {
	if !r.grid.Complete(b, now) {
		return false
	}
	r.econ.InvalidateAround(b.Loc)
	r.recalcGlobal(now)
	r.refreshPerformance()
	r.delta.building(b.Loc)
	r.delta.parcel(b.Loc)
	r.touchPlayer(b.Owner)
	r.emit(protocol.TypeBuildingCompleted, "", protocol.BuildingCompleted{Building: r.buildingView(b)})
	return true
}
