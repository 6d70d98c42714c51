package room

import (
	"fmt"
	"sort"

	"gridcity.ai/internal/persistence/snapshot"
	"gridcity.ai/internal/sim/room/auction"
	"gridcity.ai/internal/sim/room/economy"
	"gridcity.ai/internal/sim/room/governance"
	"gridcity.ai/internal/sim/room/grid"
	"gridcity.ai/internal/sim/room/ledger"
	"gridcity.ai/internal/sim/room/market"
)

// ImportSnapshot replaces the state of a freshly created room. Grid size
// and day length must match the room; derived indices are recomputed.
func (r *Room) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("room %s: unsupported snapshot version %d", r.cfg.ID, s.Header.Version)
	}
	if s.GridSize != r.cfg.GridSize {
		return fmt.Errorf("room %s: snapshot grid %d does not match %d", r.cfg.ID, s.GridSize, r.cfg.GridSize)
	}
	if s.DayTicks != r.tune.DayTicks || s.MonthDays != r.tune.MonthDays {
		return fmt.Errorf("room %s: snapshot day/month length %d/%d does not match %d/%d",
			r.cfg.ID, s.DayTicks, s.MonthDays, r.tune.DayTicks, r.tune.MonthDays)
	}
	if s.CatalogDigest != "" && s.CatalogDigest != r.cats.Buildings.Digest {
		r.logger.Printf("snapshot catalog digest %s differs from loaded %s", s.CatalogDigest, r.cats.Buildings.Digest)
	}
	for _, b := range s.Buildings {
		if !r.grid.InBounds(grid.FromArray(b.Loc)) {
			return fmt.Errorf("room %s: building %s out of bounds", r.cfg.ID, b.ID)
		}
	}

	r.tick.Store(s.Header.Tick)
	r.nextBuildingNum.Store(s.NextBuildingNum)
	r.nextListingNum.Store(s.NextListingNum)
	r.nextAuctionNum.Store(s.NextAuctionNum)
	r.nextPlayerNum.Store(s.NextPlayerNum)
	r.lastDay = s.LastDay
	r.gameOver = s.GameOver

	for _, p := range s.Parcels {
		r.grid.Restore(grid.FromArray(p.Loc), grid.Parcel{
			Owner:              p.Owner,
			Price:              p.Price,
			PurchasedTick:      p.PurchasedTick,
			ProtectedUntilTick: p.ProtectedUntilTick,
			UnderAuction:       p.UnderAuction,
		})
	}
	dist := map[grid.Coord]int{}
	for _, b := range s.Buildings {
		loc := grid.FromArray(b.Loc)
		r.grid.Place(&grid.Building{
			ID:                b.ID,
			Type:              b.Type,
			Category:          b.Category,
			Owner:             b.Owner,
			Loc:               loc,
			UnderConstruction: b.UnderConstruction,
			StartTick:         b.StartTick,
			ConstructionTicks: b.ConstructionTicks,
			CompletedTick:     b.CompletedTick,
			Age:               b.Age,
			Condition:         b.Condition,
			Residents:         b.Residents,
		})
		if !b.UnderConstruction {
			at := loc
			r.grid.Parcel(loc).Building = &at
		}
		if b.Residents > 0 {
			dist[loc] = b.Residents
		}
	}

	r.ledger.RestoreClock(s.Started, s.Month)
	for _, p := range s.Players {
		alloc := make(map[string]int, len(p.Allocations))
		for k, v := range p.Allocations {
			alloc[k] = v
		}
		r.ledger.Restore(&ledger.Player{
			ID:           p.ID,
			Name:         p.Name,
			Cash:         p.Cash,
			Actions:      ledger.Actions{Monthly: p.MonthlyActions, Purchased: p.PurchasedActions},
			VotingPoints: p.VotingPoints,
			Allocations:  alloc,
			TxLog:        append([]string(nil), p.TxLog...),
			JoinedTick:   p.JoinedTick,
		})
	}
	for _, sess := range s.Sessions {
		r.tokens[sess.ResumeToken] = sess.PlayerID
	}

	r.pop.Cohorts = economy.Cohorts{Children: s.Population.Children, Adults: s.Population.Adults, Seniors: s.Population.Seniors}
	r.pop.Ages = s.Population.Ages
	r.pop.Accumulator = s.Population.Accumulator
	r.pop.PoorDays = s.Population.PoorDays
	r.pop.Distribution = dist

	for _, l := range s.Listings {
		escrow := ledger.Actions{Monthly: l.EscrowMonthly, Purchased: l.EscrowPurchased}
		if escrow.Total() == 0 {
			// Written before the split was recorded.
			escrow.Purchased = l.Quantity
		}
		r.market.Restore(&market.Listing{
			ID:            l.ID,
			Seller:        l.Seller,
			Quantity:      l.Quantity,
			ReservePrice:  l.ReservePrice,
			BuyNowPrice:   l.BuyNowPrice,
			CurrentBid:    l.CurrentBid,
			CurrentBidder: l.CurrentBidder,
			Status:        market.Status(l.Status),
			CreatedTick:   l.CreatedTick,
			ExpiresTick:   l.ExpiresTick,
			Month:         l.Month,
			Escrow:        escrow,
		})
	}
	for _, a := range s.Auctions {
		r.auctions.Restore(&auction.Auction{
			ID:                   a.ID,
			Loc:                  grid.FromArray(a.Loc),
			Starter:              a.Starter,
			Owner:                a.Owner,
			OpeningBid:           a.OpeningBid,
			CurrentBid:           a.CurrentBid,
			HighBidder:           a.HighBidder,
			HighBidTotal:         a.HighBidTotal,
			BuildingValue:        a.BuildingValue,
			Phase:                auction.Phase(a.Phase),
			Outcome:              auction.Outcome(a.Outcome),
			StartedTick:          a.StartedTick,
			ExpiresTick:          a.ExpiresTick,
			ResponseDeadlineTick: a.ResponseDeadlineTick,
		})
	}

	g := s.Governance
	if c, ok := r.gov.(*governance.Council); ok {
		c.Import(governance.State{
			Treasury: g.Treasury,
			Budgets:  g.Budgets,
			LVTRate:  g.LVTRate,
			Stats: governance.Stats{
				LVTCollected:   g.LVTCollected,
				PublicSpending: g.PublicSpending,
				FeesCollected:  g.FeesCollected,
			},
		})
	} else {
		r.gov.SetLVTRate(g.LVTRate)
		r.logger.Printf("governance %T does not import budgets; only the LVT rate was restored", r.gov)
	}

	r.seen = newSeenSet(r.tune.SeenTxCapacity)
	for _, id := range s.Seen {
		r.seen.Add(id)
	}

	r.econ.InvalidateAll()
	r.recalcGlobal(s.Header.Tick)
	r.refreshPerformance()
	r.delta.reset()
	r.publishMetrics(0)
	return nil
}

func sortSessions(s []snapshot.SessionV1) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].PlayerID != s[j].PlayerID {
			return s[i].PlayerID < s[j].PlayerID
		}
		return s[i].ResumeToken < s[j].ResumeToken
	})
}
