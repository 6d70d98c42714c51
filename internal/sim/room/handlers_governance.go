package room

import (
	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/room/governance"
)

func (r *Room) handleGovernanceVote(in protocol.TxIntent, now uint64) (map[string]any, error) {
	if in.Category == "" {
		return nil, protocol.Reject(protocol.ErrBadRequest, "category is required")
	}
	if !r.validVoteCategory(in.Category) {
		return nil, protocol.Reject(protocol.ErrBadRequest, "unknown budget category %q", in.Category)
	}
	if err := r.ledger.CheckVotingPoints(in.PlayerID, in.Points); err != nil {
		return nil, err
	}

	r.ledger.Allocate(in.PlayerID, in.Category, in.Points)
	data := map[string]any{"category": in.Category, "points": in.Points}
	if isLVTVote(in.Category) {
		r.gov.SetLVTRate(r.votedLVTRate(r.ledger.Tally()))
		r.delta.governance = true
		data["lvtRate"] = r.gov.LVTRate()
	}
	return data, nil
}

func isLVTVote(category string) bool {
	return category == governance.VoteLVTRaise || category == governance.VoteLVTLower
}

func (r *Room) validVoteCategory(category string) bool {
	if b, ok := r.gov.(budgeting); ok {
		return b.ValidCategory(category)
	}
	if isLVTVote(category) {
		return true
	}
	_, ok := r.gov.Budgets()[category]
	return ok
}

// votedLVTRate asks the government for the rate implied by the tally, or
// derives it from tuning when the government only exposes SetLVTRate.
func (r *Room) votedLVTRate(tally map[string]int) float64 {
	if b, ok := r.gov.(budgeting); ok {
		return b.VotedLVTRate(tally)
	}
	g := r.tune.Governance
	return g.BaseLVTRate + g.LVTStep*float64(tally[governance.VoteLVTRaise]-tally[governance.VoteLVTLower])
}
