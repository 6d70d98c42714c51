package room

import (
	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/room/market"
)

// Listing update subtypes.
const (
	listingCreated   = "created"
	listingBid       = "bid"
	listingSold      = "sold"
	listingCancelled = "cancelled"
	listingReturned  = "returned"
)

// clock places now inside its game month.
func (r *Room) clock(now uint64) market.Clock {
	mt := r.tune.MonthTicks()
	month := 0
	if mt > 0 {
		month = int(now / mt)
	}
	return market.Clock{Now: now, Month: month, MonthStart: uint64(month) * mt, MonthTicks: mt}
}

func (r *Room) handleListingCreate(in protocol.TxIntent, now uint64) (map[string]any, error) {
	l, err := r.market.Create(r.ledger, in.PlayerID, in.Quantity, in.ReservePrice, in.BuyNowPrice, r.clock(now))
	if err != nil {
		return nil, err
	}
	r.listingChanged(listingCreated, l)
	return map[string]any{"listingId": l.ID, "expiresTick": l.ExpiresTick}, nil
}

func (r *Room) handleListingBid(in protocol.TxIntent, now uint64) (map[string]any, error) {
	prev := r.previousBidder(in.ListingID)
	l, err := r.market.Bid(r.ledger, in.ListingID, in.PlayerID, in.Amount, r.clock(now))
	if err != nil {
		return nil, err
	}
	r.touchPlayer(prev)
	r.listingChanged(listingBid, l)
	return map[string]any{"listingId": l.ID, "currentBid": l.CurrentBid, "expiresTick": l.ExpiresTick}, nil
}

func (r *Room) handleListingBuyNow(in protocol.TxIntent, now uint64) (map[string]any, error) {
	prev := r.previousBidder(in.ListingID)
	l, price, err := r.market.BuyNow(r.ledger, in.ListingID, in.PlayerID, r.clock(now))
	if err != nil {
		return nil, err
	}
	r.touchPlayer(prev)
	r.touchPlayer(l.Seller)
	r.listingChanged(listingSold, l)
	r.audit(AuditEntry{Actor: in.PlayerID, Action: "LISTING_BUY_NOW", Amount: price, Target: l.ID})
	return map[string]any{"listingId": l.ID, "price": price, "quantity": l.Quantity}, nil
}

func (r *Room) handleListingCancel(in protocol.TxIntent, now uint64) (map[string]any, error) {
	prev := r.previousBidder(in.ListingID)
	l, fee, err := r.market.Cancel(r.ledger, r.gov, in.ListingID, in.PlayerID, r.clock(now))
	if err != nil {
		return nil, err
	}
	r.touchPlayer(prev)
	r.delta.governance = true
	r.listingChanged(listingCancelled, l)
	return map[string]any{"listingId": l.ID, "fee": fee}, nil
}

func (r *Room) handleListingEndEarly(in protocol.TxIntent, now uint64) (map[string]any, error) {
	l, fee, err := r.market.EndEarly(r.ledger, r.gov, in.ListingID, in.PlayerID, r.clock(now))
	if err != nil {
		return nil, err
	}
	r.touchPlayer(l.CurrentBidder)
	r.delta.governance = true
	r.listingChanged(listingSold, l)
	return map[string]any{"listingId": l.ID, "fee": fee, "price": l.CurrentBid}, nil
}

func (r *Room) previousBidder(listingID string) string {
	if l := r.market.Get(listingID); l != nil {
		return l.CurrentBidder
	}
	return ""
}

// listingSettled announces a listing closed by expiry or month end.
func (r *Room) listingSettled(l *market.Listing) {
	r.touchPlayer(l.Seller)
	r.touchPlayer(l.CurrentBidder)
	if l.Status == market.StatusSold {
		r.listingChanged(listingSold, l)
		return
	}
	r.listingChanged(listingReturned, l)
}

func (r *Room) listingChanged(subtype string, l *market.Listing) {
	r.touchPlayer(l.Seller)
	r.emit(protocol.TypeListingUpdate, subtype, listingView(l))
}
