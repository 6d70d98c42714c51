package room

import (
	"sort"

	"gridcity.ai/internal/protocol"
)

// Victory returns the final standings once the game is over.
func (r *Room) Victory() (protocol.Victory, bool) {
	if r.victory == nil {
		return protocol.Victory{}, false
	}
	return *r.victory, true
}

// Leaderboard ranks players by wealth / divisor plus the civic score of
// the completed buildings they own.
func (r *Room) Leaderboard() []protocol.ScoreView {
	civic := map[string]float64{}
	for _, b := range r.grid.Completed() {
		if def, ok := r.cats.Buildings.Get(b.Type); ok {
			civic[b.Owner] += def.CivicScore
		}
	}
	div := r.tune.Victory.WealthScoreDivisor
	if div <= 0 {
		div = 1
	}
	players := r.ledger.Players()
	out := make([]protocol.ScoreView, 0, len(players))
	for _, p := range players {
		w := r.Wealth(p.ID)
		out = append(out, protocol.ScoreView{
			PlayerID: p.ID,
			Name:     p.Name,
			Wealth:   w,
			Civic:    civic[p.ID],
			Score:    float64(w)/div + civic[p.ID],
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func (r *Room) declareVictory(now uint64, day int) {
	if r.gameOver {
		return
	}
	v := protocol.Victory{
		Day:         day,
		Leaderboard: r.Leaderboard(),
		Stats: protocol.VictoryStats{
			FinalPopulation: r.pop.Total(),
			TotalBuildings:  len(r.grid.Completed()),
			FinalLVTRate:    r.gov.LVTRate(),
		},
	}
	for _, s := range v.Leaderboard {
		v.Stats.TotalWealth += s.Wealth
	}
	if b, ok := r.gov.(budgeting); ok {
		st := b.Stats()
		v.Stats.LVTCollected = st.LVTCollected
		v.Stats.PublicSpending = st.PublicSpending
	}
	r.gameOver = true
	r.victory = &v
	r.emit(protocol.TypeGameVictory, "", v)
	if r.victoryRec != nil {
		r.victoryRec.RecordVictory(r.cfg.ID, now, v)
	}
	winner := "nobody"
	if len(v.Leaderboard) > 0 {
		winner = v.Leaderboard[0].PlayerID
	}
	r.logger.Printf("victory on day %d: winner %s", day, winner)
}
