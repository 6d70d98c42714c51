package room

import (
	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/room/auction"
)

func (r *Room) handleAuctionStart(in protocol.TxIntent, now uint64) (map[string]any, error) {
	loc, err := locOf(in)
	if err != nil {
		return nil, err
	}
	opening, err := r.auctions.CheckStart(r.grid, in.PlayerID, loc, in.Amount, now)
	if err != nil {
		return nil, err
	}
	a, ev := r.auctions.Start(r.grid, in.PlayerID, loc, opening, now)
	r.applyAuctionEvent(ev)
	return map[string]any{"auctionId": a.ID, "openingBid": a.OpeningBid, "expiresTick": a.ExpiresTick}, nil
}

func (r *Room) handleAuctionBid(in protocol.TxIntent, now uint64) (map[string]any, error) {
	var prev string
	if a := r.auctions.Get(in.AuctionID); a != nil {
		prev = a.HighBidder
	}
	a, ev, err := r.auctions.Bid(r.ledger, in.AuctionID, in.PlayerID, in.Amount, now)
	if err != nil {
		return nil, err
	}
	r.touchPlayer(prev)
	r.applyAuctionEvent(ev)
	return map[string]any{"auctionId": a.ID, "total": a.HighBidTotal, "expiresTick": a.ExpiresTick}, nil
}

func (r *Room) handleAuctionRespond(in protocol.TxIntent, now uint64) (map[string]any, error) {
	a, ev, err := r.auctions.Respond(r.ledger, r.gov, r.grid, in.AuctionID, in.PlayerID, in.Response, now)
	if err != nil {
		return nil, err
	}
	r.applyAuctionEvent(ev)
	return map[string]any{"auctionId": a.ID, "outcome": string(a.Outcome)}, nil
}

// applyAuctionEvent records the side effects of an auction state change
// and broadcasts PARCEL_AUCTION_UPDATE.
func (r *Room) applyAuctionEvent(ev auction.Event) {
	a := ev.Auction
	if a == nil {
		return
	}
	r.delta.parcel(a.Loc)
	r.touchPlayer(a.Owner)
	r.touchPlayer(a.HighBidder)
	if ev.Subtype == protocol.AuctionCompleted {
		switch a.Outcome {
		case auction.OutcomeTransferred:
			if r.grid.Building(a.Loc) != nil {
				r.delta.building(a.Loc)
			}
			r.econ.InvalidateAround(a.Loc)
			r.audit(AuditEntry{Actor: a.HighBidder, Action: "PARCEL_TRANSFER", Loc: a.Loc.Array(), Amount: a.HighBidTotal, Target: a.Owner, Reason: a.ID})
		case auction.OutcomeMatched:
			r.delta.governance = true
			r.audit(AuditEntry{Actor: a.Owner, Action: "AUCTION_MATCH", Loc: a.Loc.Array(), Amount: a.CurrentBid, Target: a.HighBidder, Reason: a.ID})
		}
	}
	r.emit(protocol.TypeParcelAuctionUpdate, ev.Subtype, auctionView(a))
}
