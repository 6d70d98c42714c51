package room

import (
	"sort"

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/room/grid"
)

// deltaSet collects what changed since the last GAME_STATE_DELTA.
type deltaSet struct {
	parcels          map[grid.Coord]struct{}
	buildings        map[grid.Coord]struct{}
	removedBuildings map[grid.Coord]struct{}
	players          map[string]struct{}
	removedPlayers   map[string]struct{}

	indices    bool
	population bool
	governance bool
}

func newDeltaSet() deltaSet {
	return deltaSet{
		parcels:          map[grid.Coord]struct{}{},
		buildings:        map[grid.Coord]struct{}{},
		removedBuildings: map[grid.Coord]struct{}{},
		players:          map[string]struct{}{},
		removedPlayers:   map[string]struct{}{},
	}
}

func (d *deltaSet) parcel(c grid.Coord) { d.parcels[c] = struct{}{} }

func (d *deltaSet) building(c grid.Coord) {
	delete(d.removedBuildings, c)
	d.buildings[c] = struct{}{}
}

func (d *deltaSet) removeBuilding(c grid.Coord) {
	delete(d.buildings, c)
	d.removedBuildings[c] = struct{}{}
	d.parcels[c] = struct{}{}
}

func (d *deltaSet) player(id string) {
	if id == "" || id == grid.CityOwner {
		return
	}
	delete(d.removedPlayers, id)
	d.players[id] = struct{}{}
}

func (d *deltaSet) removePlayer(id string) {
	delete(d.players, id)
	d.removedPlayers[id] = struct{}{}
}

func (d *deltaSet) empty() bool {
	return len(d.parcels) == 0 && len(d.buildings) == 0 && len(d.removedBuildings) == 0 &&
		len(d.players) == 0 && len(d.removedPlayers) == 0 &&
		!d.indices && !d.population && !d.governance
}

func (d *deltaSet) reset() {
	clear(d.parcels)
	clear(d.buildings)
	clear(d.removedBuildings)
	clear(d.players)
	clear(d.removedPlayers)
	d.indices, d.population, d.governance = false, false, false
}

func sortedCoords(m map[grid.Coord]struct{}) []grid.Coord {
	out := make([]grid.Coord, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func sortedIDs(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// buildDelta renders the pending changes. Entries are sorted so that two
// rooms fed the same transactions emit identical deltas.
func (r *Room) buildDelta() protocol.GameStateDelta {
	var out protocol.GameStateDelta
	d := &r.delta
	for _, c := range sortedCoords(d.parcels) {
		out.Parcels = append(out.Parcels, r.parcelView(c))
	}
	for _, c := range sortedCoords(d.buildings) {
		if b := r.grid.Building(c); b != nil {
			out.Buildings = append(out.Buildings, r.buildingView(b))
		}
	}
	for _, c := range sortedCoords(d.removedBuildings) {
		out.RemovedBuildings = append(out.RemovedBuildings, c.Array())
	}
	for _, id := range sortedIDs(d.players) {
		if p := r.ledger.Get(id); p != nil {
			out.Players = append(out.Players, r.playerView(p))
		}
	}
	out.RemovedPlayers = sortedIDs(d.removedPlayers)
	if len(out.RemovedPlayers) == 0 {
		out.RemovedPlayers = nil
	}
	if d.indices {
		j := r.jeefhhView()
		c := r.carensView()
		out.JEEFHH, out.CARENS = &j, &c
	}
	if d.population {
		p := r.populationView()
		out.Population = &p
	}
	if d.governance {
		g := r.governanceView()
		out.Governance = &g
	}
	return out
}

// flushDelta emits one GAME_STATE_DELTA if anything changed.
func (r *Room) flushDelta() {
	if r.delta.empty() {
		return
	}
	delta := r.buildDelta()
	r.delta.reset()
	if delta.Empty() {
		return
	}
	r.emit(protocol.TypeGameStateDelta, "", delta)
}
