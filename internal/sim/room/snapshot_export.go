package room

import (
	"gridcity.ai/internal/persistence/snapshot"
	"gridcity.ai/internal/sim/room/governance"
	"gridcity.ai/internal/sim/room/grid"
)

// ExportSnapshot captures everything needed to resume the room. Derived
// indices and performance are left out and recomputed on import.
func (r *Room) ExportSnapshot() snapshot.SnapshotV1 {
	now := r.tick.Load()
	s := snapshot.SnapshotV1{
		Header:          snapshot.Header{Version: snapshot.Version, RoomID: r.cfg.ID, Tick: now},
		TickRateHz:      r.tune.TickRateHz,
		DayTicks:        r.tune.DayTicks,
		MonthDays:       r.tune.MonthDays,
		GridSize:        r.cfg.GridSize,
		VictoryDay:      r.cfg.VictoryDay,
		SinglePlayer:    r.cfg.SinglePlayer,
		CatalogDigest:   r.cats.Buildings.Digest,
		Started:         r.ledger.Started(),
		GameOver:        r.gameOver,
		Month:           r.ledger.Month(),
		LastDay:         r.lastDay,
		NextBuildingNum: r.nextBuildingNum.Load(),
		NextListingNum:  r.nextListingNum.Load(),
		NextAuctionNum:  r.nextAuctionNum.Load(),
		NextPlayerNum:   r.nextPlayerNum.Load(),
		Seen:            r.seen.IDs(),
	}

	size := r.grid.Size()
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			c := grid.Coord{Row: row, Col: col}
			p := r.grid.Parcel(c)
			if p.Owner == grid.CityOwner && p.Price == grid.InitialPrice(size, c, r.tune.Land.CenterPrice, r.tune.Land.EdgePrice) &&
				p.ProtectedUntilTick == 0 && p.UnderAuction == "" {
				continue
			}
			s.Parcels = append(s.Parcels, snapshot.ParcelV1{
				Loc:                c.Array(),
				Owner:              p.Owner,
				Price:              p.Price,
				PurchasedTick:      p.PurchasedTick,
				ProtectedUntilTick: p.ProtectedUntilTick,
				UnderAuction:       p.UnderAuction,
			})
		}
	}

	for _, b := range r.grid.Buildings() {
		s.Buildings = append(s.Buildings, snapshot.BuildingV1{
			ID:                b.ID,
			Type:              b.Type,
			Category:          b.Category,
			Owner:             b.Owner,
			Loc:               b.Loc.Array(),
			UnderConstruction: b.UnderConstruction,
			StartTick:         b.StartTick,
			ConstructionTicks: b.ConstructionTicks,
			CompletedTick:     b.CompletedTick,
			Age:               b.Age,
			Condition:         b.Condition,
			Residents:         b.Residents,
		})
	}

	for _, p := range r.ledger.Players() {
		alloc := make(map[string]int, len(p.Allocations))
		for k, v := range p.Allocations {
			alloc[k] = v
		}
		s.Players = append(s.Players, snapshot.PlayerV1{
			ID:               p.ID,
			Name:             p.Name,
			Cash:             p.Cash,
			MonthlyActions:   p.Actions.Monthly,
			PurchasedActions: p.Actions.Purchased,
			VotingPoints:     p.VotingPoints,
			Allocations:      alloc,
			TxLog:            append([]string(nil), p.TxLog...),
			JoinedTick:       p.JoinedTick,
		})
	}
	for tok, id := range r.tokens {
		s.Sessions = append(s.Sessions, snapshot.SessionV1{ResumeToken: tok, PlayerID: id})
	}
	sortSessions(s.Sessions)

	s.Population = snapshot.PopulationV1{
		Children:    r.pop.Cohorts.Children,
		Adults:      r.pop.Cohorts.Adults,
		Seniors:     r.pop.Cohorts.Seniors,
		Ages:        r.pop.Ages,
		Accumulator: r.pop.Accumulator,
		PoorDays:    r.pop.PoorDays,
	}

	for _, l := range r.market.All() {
		s.Listings = append(s.Listings, snapshot.ListingV1{
			ID:              l.ID,
			Seller:          l.Seller,
			Quantity:        l.Quantity,
			ReservePrice:    l.ReservePrice,
			BuyNowPrice:     l.BuyNowPrice,
			CurrentBid:      l.CurrentBid,
			CurrentBidder:   l.CurrentBidder,
			Status:          string(l.Status),
			CreatedTick:     l.CreatedTick,
			ExpiresTick:     l.ExpiresTick,
			Month:           l.Month,
			EscrowMonthly:   l.Escrow.Monthly,
			EscrowPurchased: l.Escrow.Purchased,
		})
	}
	for _, a := range r.auctions.All() {
		s.Auctions = append(s.Auctions, snapshot.AuctionV1{
			ID:                   a.ID,
			Loc:                  a.Loc.Array(),
			Starter:              a.Starter,
			Owner:                a.Owner,
			OpeningBid:           a.OpeningBid,
			CurrentBid:           a.CurrentBid,
			HighBidder:           a.HighBidder,
			HighBidTotal:         a.HighBidTotal,
			BuildingValue:        a.BuildingValue,
			Phase:                string(a.Phase),
			Outcome:              string(a.Outcome),
			StartedTick:          a.StartedTick,
			ExpiresTick:          a.ExpiresTick,
			ResponseDeadlineTick: a.ResponseDeadlineTick,
		})
	}

	if c, ok := r.gov.(*governance.Council); ok {
		st := c.Export()
		s.Governance = snapshot.GovernanceV1{
			Treasury:       st.Treasury,
			Budgets:        st.Budgets,
			LVTRate:        st.LVTRate,
			LVTCollected:   st.Stats.LVTCollected,
			PublicSpending: st.Stats.PublicSpending,
			FeesCollected:  st.Stats.FeesCollected,
		}
	} else {
		s.Governance = snapshot.GovernanceV1{
			Treasury: r.gov.Treasury(),
			Budgets:  r.gov.Budgets(),
			LVTRate:  r.gov.LVTRate(),
		}
	}
	return s
}
