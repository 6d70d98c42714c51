package room

import (
	"encoding/json"

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/room/auction"
	"gridcity.ai/internal/sim/room/grid"
	"gridcity.ai/internal/sim/room/ledger"
	"gridcity.ai/internal/sim/room/market"
	"gridcity.ai/internal/sim/room/population"
)

// GameState renders the full authoritative state of the room.
func (r *Room) GameState() protocol.GameState {
	now := r.tick.Load()
	size := r.grid.Size()
	rows := make([][]protocol.ParcelView, size)
	for row := 0; row < size; row++ {
		rows[row] = make([]protocol.ParcelView, size)
		for col := 0; col < size; col++ {
			rows[row][col] = r.parcelView(grid.Coord{Row: row, Col: col})
		}
	}
	st := protocol.GameState{
		RoomID:     r.cfg.ID,
		Tick:       now,
		GameTime:   r.gameTime(now),
		GameDay:    r.gameDay(now),
		Month:      r.ledger.Month(),
		Started:    r.ledger.Started(),
		GameOver:   r.gameOver,
		GridSize:   size,
		Grid:       rows,
		Buildings:  []protocol.BuildingView{},
		Players:    []protocol.PlayerView{},
		JEEFHH:     r.jeefhhView(),
		CARENS:     r.carensView(),
		Population: r.populationView(),
		Cashflow:   make(map[string]protocol.CashflowView, len(r.cashflow)),
		Governance: r.governanceView(),
		Listings:   []protocol.ListingView{},
		Auctions:   []protocol.AuctionView{},
	}
	for _, b := range r.grid.Buildings() {
		st.Buildings = append(st.Buildings, r.buildingView(b))
	}
	for _, p := range r.ledger.Players() {
		st.Players = append(st.Players, r.playerView(p))
	}
	for id, cf := range r.cashflow {
		st.Cashflow[id] = cf
	}
	for _, l := range r.market.All() {
		st.Listings = append(st.Listings, listingView(l))
	}
	for _, a := range r.auctions.All() {
		st.Auctions = append(st.Auctions, auctionView(a))
	}
	return st
}

func (r *Room) parcelView(c grid.Coord) protocol.ParcelView {
	p := r.grid.Parcel(c)
	if p == nil {
		return protocol.ParcelView{Loc: c.Array()}
	}
	v := protocol.ParcelView{
		Loc:                c.Array(),
		Owner:              p.Owner,
		Price:              p.Price,
		ProtectedUntilTick: p.ProtectedUntilTick,
		UnderAuction:       p.UnderAuction,
	}
	if b := r.grid.Building(c); b != nil {
		v.BuildingID = b.ID
	}
	return v
}

func (r *Room) buildingView(b *grid.Building) protocol.BuildingView {
	return protocol.BuildingView{
		ID:                b.ID,
		Type:              b.Type,
		Category:          b.Category,
		Owner:             b.Owner,
		Loc:               b.Loc.Array(),
		UnderConstruction: b.UnderConstruction,
		Progress:          b.Progress(r.tick.Load()),
		Age:               b.Age,
		Condition:         b.Condition,
		Residents:         b.Residents,
		Revenue:           b.Perf.Revenue,
		Maintenance:       b.Perf.Maintenance,
		LocalNeeds:        b.Perf.LocalNeeds,
		LocalCARENS:       b.Perf.LocalCARENS,
	}
}

func (r *Room) playerView(p *ledger.Player) protocol.PlayerView {
	v := protocol.PlayerView{
		ID:     p.ID,
		Name:   p.Name,
		Cash:   p.Cash,
		Wealth: r.Wealth(p.ID),
		Actions: protocol.ActionsView{
			Monthly:   p.Actions.Monthly,
			Purchased: p.Actions.Purchased,
			Total:     p.Actions.Total(),
		},
		VotingPoints: p.VotingPoints,
	}
	if len(p.Allocations) > 0 {
		v.Allocations = make(map[string]int, len(p.Allocations))
		for k, n := range p.Allocations {
			v.Allocations[k] = n
		}
	}
	return v
}

func (r *Room) jeefhhView() protocol.JEEFHHView {
	v := protocol.JEEFHHView{Resources: make(map[string]protocol.ResourceView, len(catalogs.Resources)), Global: r.jeefhh.Global}
	for name, idx := range r.jeefhh.Resources {
		v.Resources[name] = protocol.ResourceView{Supply: idx.Supply, Demand: idx.Demand, Multiplier: idx.Multiplier}
	}
	return v
}

func (r *Room) carensView() protocol.CARENSView {
	v := protocol.CARENSView{Points: make(map[string]float64, len(catalogs.Livability)), Multiplier: r.carens.Multiplier}
	for k, p := range r.carens.Points {
		v.Points[k] = p
	}
	return v
}

func (r *Room) populationView() protocol.PopulationView {
	c := r.pop.Cohorts
	return protocol.PopulationView{
		Total:          c.Total(),
		Children:       c.Children,
		Adults:         c.Adults,
		Seniors:        c.Seniors,
		Capacity:       r.housingCapacity(),
		Attractiveness: r.attract,
		PoorDays:       r.pop.PoorDays,
	}
}

func (r *Room) governanceView() protocol.GovernanceView {
	v := protocol.GovernanceView{
		Treasury: r.gov.Treasury(),
		Budgets:  r.gov.Budgets(),
		LVTRate:  r.gov.LVTRate(),
	}
	if b, ok := r.gov.(budgeting); ok {
		s := b.Stats()
		v.LVTCollected = s.LVTCollected
		v.PublicSpending = s.PublicSpending
	}
	return v
}

func listingView(l *market.Listing) protocol.ListingView {
	return protocol.ListingView{
		ID:            l.ID,
		Seller:        l.Seller,
		Quantity:      l.Quantity,
		ReservePrice:  l.ReservePrice,
		BuyNowPrice:   l.BuyNowPrice,
		CurrentBid:    l.CurrentBid,
		CurrentBidder: l.CurrentBidder,
		Status:        string(l.Status),
		CreatedTick:   l.CreatedTick,
		ExpiresTick:   l.ExpiresTick,
		Month:         l.Month,
	}
}

func auctionView(a *auction.Auction) protocol.AuctionView {
	return protocol.AuctionView{
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
	}
}

// Wealth is cash plus owned parcel prices plus the depreciated value of
// owned buildings.
func (r *Room) Wealth(id string) int64 {
	if r.ledger.Get(id) == nil {
		return 0
	}
	return r.econ.Wealth(id, func() int64 {
		w := r.ledger.Cash(id)
		for _, c := range r.grid.OwnedBy(id) {
			w += r.grid.Parcel(c).Price
			if b := r.grid.Building(c); b != nil && b.Owner == id {
				w += r.parcelValue(c)
			}
		}
		return w
	})
}

// touchPlayer drops memoized wealth and queues the player for the next delta.
func (r *Room) touchPlayer(id string) {
	if id == "" || id == grid.CityOwner {
		return
	}
	r.econ.InvalidatePlayer(id)
	r.delta.player(id)
}

// homes lists completed housing with its resident capacity.
func (r *Room) homes() []population.Home {
	var out []population.Home
	for _, b := range r.grid.Completed() {
		def, ok := r.cats.Buildings.Get(b.Type)
		if !ok || def.Resources.HousingProvided <= 0 {
			continue
		}
		capacity := population.MaxPopulation(def.Resources.HousingProvided, r.tune.Population.OccupantsPerHousingUnit)
		out = append(out, population.Home{Loc: b.Loc, Capacity: capacity})
	}
	return out
}

// housingCapacity is the most residents the city can house.
func (r *Room) housingCapacity() int {
	total := 0
	for _, h := range r.homes() {
		total += h.Capacity
	}
	return total
}

// emit sends a message to the broadcast hook and every attached client.
func (r *Room) emit(typ, subtype string, data any) {
	now := r.tick.Load()
	msg := protocol.Message{
		Type:     typ,
		Subtype:  subtype,
		RoomID:   r.cfg.ID,
		Tick:     now,
		GameTime: r.gameTime(now),
		Data:     data,
	}
	if r.broadcast != nil {
		r.broadcast(msg)
	}
	if len(r.clients) == 0 {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		r.logger.Printf("marshal %s: %v", typ, err)
		return
	}
	for _, c := range r.clients {
		if c.Out != nil {
			sendLatest(c.Out, b)
		}
	}
}
