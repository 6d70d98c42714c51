package room

import (
	"math"
	"sort"

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/room/population"
)

// daily runs once per game day: decay, population, distribution, then
// performance and cashflow against the new residents.
func (r *Room) daily(now uint64, day int) {
	r.decay()
	r.econ.InvalidateAll()
	r.recalcGlobal(now)

	out := r.pop.Step(population.ParamsFromTuning(r.tune), r.attract, r.housingCapacity())
	if out.Warning != population.WarningNone {
		r.emit(protocol.TypePopulationWarning, "", protocol.PopulationWarning{
			Severe:         out.Warning == population.WarningSevere,
			PoorDays:       r.pop.PoorDays,
			Attractiveness: r.attract,
			Population:     out.After,
			Lost:           out.Emigrated,
		})
	}
	r.distribute()

	// Residents changed local needs and cohorts changed global demand.
	r.econ.InvalidateAll()
	r.recalcGlobal(now)
	r.refreshPerformance()
	paid := r.payCashflow()
	r.delta.population = true

	r.logger.Printf("day %d: population %d (%+d) attract=%.3f global=%.3f cashflow=%d",
		day, out.After, out.After-out.Before, r.attract, r.jeefhh.Global, paid)
}

// decay ages every completed building and lowers its condition.
func (r *Room) decay() {
	floor := r.tune.Buildings.MinCondition
	for _, b := range r.grid.Completed() {
		def, ok := r.cats.Buildings.Get(b.Type)
		if !ok {
			continue
		}
		b.Age++
		b.Condition = math.Max(floor, b.Condition-def.Economics.DecayPercent()/100)
		r.delta.building(b.Loc)
		r.touchPlayer(b.Owner)
	}
}

// distribute spreads residents over housing by local desirability.
func (r *Room) distribute() {
	homes := r.homes()
	for i := range homes {
		b := r.grid.Building(homes[i].Loc)
		l := r.econ.Local(b)
		homes[i].Score = l.CARENS * l.Needs * b.Condition
	}
	dist := population.Distribute(r.pop.Total(), homes)
	for _, b := range r.grid.Buildings() {
		n := dist[b.Loc]
		if b.Residents != n {
			b.Residents = n
			r.delta.building(b.Loc)
		}
	}
	r.pop.Distribution = dist
}

// payCashflow settles each owner's daily revenue minus maintenance and
// returns the net amount paid out across the city.
func (r *Room) payCashflow() int64 {
	owners := make([]string, 0, len(r.cashflow))
	for id := range r.cashflow {
		owners = append(owners, id)
	}
	sort.Strings(owners)

	var total int64
	for _, id := range owners {
		if r.ledger.Get(id) == nil {
			continue
		}
		net := int64(math.Round(r.cashflow[id].Net))
		switch {
		case net > 0:
			r.ledger.Credit(id, net)
		case net < 0:
			r.ledger.Debit(id, -net)
		default:
			continue
		}
		total += net
		r.touchPlayer(id)
	}
	return total
}
