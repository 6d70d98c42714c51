package auction

import (
	"sort"

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/room/grid"
	"gridcity.ai/internal/sim/tuning"
)

type Phase string

const (
	PhaseBidding       Phase = "bidding"
	PhaseOwnerResponse Phase = "owner_response"
	PhaseCompleted     Phase = "completed"
)

type Outcome string

const (
	OutcomeMatched     Outcome = "matched"
	OutcomeTransferred Outcome = "transferred"
	OutcomeNoBids      Outcome = "no_bids"
)

type Auction struct {
	ID                   string
	Loc                  grid.Coord
	Starter              string
	Owner                string
	OpeningBid           int64
	CurrentBid           int64
	HighBidder           string
	HighBidTotal         int64
	BuildingValue        int64
	Phase                Phase
	Outcome              Outcome
	StartedTick          uint64
	ExpiresTick          uint64
	ResponseDeadlineTick uint64
}

// Event is a state change worth broadcasting. Subtype is one of the
// protocol.Auction* constants.
type Event struct {
	Subtype string
	Auction *Auction
}

type Bank interface {
	CheckFunds(id string, amount int64) error
	Debit(id string, amount int64)
	Credit(id string, amount int64)
	Cash(id string) int64
}

type Treasury interface {
	AddFunds(amount int64, reason string)
}

// Land is the parcel registry an auction reads and transfers. *grid.Grid
// implements it.
type Land interface {
	Parcel(c grid.Coord) *grid.Parcel
	Transfer(c grid.Coord, owner string)
}

// Valuer returns the current depreciated value of whatever stands on a
// parcel, 0 for an empty one.
type Valuer func(loc grid.Coord) int64

type Params struct {
	MaxConcurrent       int
	DurationTicks       uint64
	SnipeWindowTicks    uint64
	SnipeExtensionTicks uint64
	ResponseTicks       uint64
	ProtectionTicks     uint64
}

func ParamsFromTuning(t tuning.Tuning) Params {
	a := t.Auction
	return Params{
		MaxConcurrent:       a.MaxConcurrent,
		DurationTicks:       t.SecondsToTicks(a.DurationSeconds),
		SnipeWindowTicks:    t.SecondsToTicks(a.SnipeWindowSeconds),
		SnipeExtensionTicks: t.SecondsToTicks(a.SnipeExtensionSeconds),
		ResponseTicks:       t.SecondsToTicks(a.ResponseSeconds),
		ProtectionTicks:     uint64(a.ProtectionDays) * uint64(t.DayTicks),
	}
}

// House runs the hostile-takeover auctions of one room.
type House struct {
	p        Params
	newID    func() string
	value    Valuer
	auctions map[string]*Auction
}

func NewHouse(p Params, newID func() string, value Valuer) *House {
	return &House{p: p, newID: newID, value: value, auctions: map[string]*Auction{}}
}

func (h *House) Get(id string) *Auction { return h.auctions[id] }

// All returns every auction ordered by start.
func (h *House) All() []*Auction {
	out := make([]*Auction, 0, len(h.auctions))
	for _, a := range h.auctions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedTick != out[j].StartedTick {
			return out[i].StartedTick < out[j].StartedTick
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Open returns auctions that have not completed.
func (h *House) Open() []*Auction {
	var out []*Auction
	for _, a := range h.All() {
		if a.Phase != PhaseCompleted {
			out = append(out, a)
		}
	}
	return out
}

func (h *House) Restore(a *Auction) { h.auctions[a.ID] = a }

// CheckStart validates opening an auction on loc. A zero opening bid
// defaults to the parcel price.
func (h *House) CheckStart(land Land, starter string, loc grid.Coord, openingBid int64, now uint64) (int64, error) {
	p := land.Parcel(loc)
	if p == nil {
		return 0, protocol.Reject(protocol.ErrInvalidLocation, "parcel %d,%d out of bounds", loc.Row, loc.Col)
	}
	if p.Owner == grid.CityOwner {
		return 0, protocol.Reject(protocol.ErrConflict, "parcel %d,%d is not player-owned; purchase it instead", loc.Row, loc.Col)
	}
	if p.Owner == starter {
		return 0, protocol.Reject(protocol.ErrConflict, "cannot auction your own parcel")
	}
	if p.UnderAuction != "" {
		return 0, protocol.Reject(protocol.ErrConflict, "parcel %d,%d is already under auction", loc.Row, loc.Col)
	}
	if now < p.ProtectedUntilTick {
		return 0, protocol.Reject(protocol.ErrProtected, "parcel %d,%d is protected until tick %d", loc.Row, loc.Col, p.ProtectedUntilTick)
	}
	if h.p.MaxConcurrent > 0 && len(h.Open()) >= h.p.MaxConcurrent {
		return 0, protocol.Reject(protocol.ErrConflict, "%d auctions already running", h.p.MaxConcurrent)
	}
	if openingBid < 0 {
		return 0, protocol.Reject(protocol.ErrBadRequest, "negative opening bid")
	}
	if openingBid == 0 {
		openingBid = p.Price
	}
	return openingBid, nil
}

// Start opens an auction. Callers validate with CheckStart first.
func (h *House) Start(land Land, starter string, loc grid.Coord, openingBid int64, now uint64) (*Auction, Event) {
	p := land.Parcel(loc)
	a := &Auction{
		ID:            h.newID(),
		Loc:           loc,
		Starter:       starter,
		Owner:         p.Owner,
		OpeningBid:    openingBid,
		CurrentBid:    openingBid,
		BuildingValue: h.value(loc),
		Phase:         PhaseBidding,
		StartedTick:   now,
		ExpiresTick:   now + h.p.DurationTicks,
	}
	p.UnderAuction = a.ID
	h.auctions[a.ID] = a
	return a, Event{Subtype: protocol.AuctionStarted, Auction: a}
}

// Bid raises the high bid. The bidder escrows bid plus the building's
// current value; the previous high bidder gets that full total back.
func (h *House) Bid(bank Bank, id, bidder string, amount int64, now uint64) (*Auction, Event, error) {
	a := h.auctions[id]
	if a == nil {
		return nil, Event{}, protocol.Reject(protocol.ErrNotFound, "auction %s not found", id)
	}
	if a.Phase != PhaseBidding || now >= a.ExpiresTick {
		return nil, Event{}, protocol.Reject(protocol.ErrBadPhase, "auction %s is not accepting bids", id)
	}
	if bidder == a.Owner {
		return nil, Event{}, protocol.Reject(protocol.ErrConflict, "owner cannot bid on own parcel")
	}
	if amount <= a.CurrentBid {
		return nil, Event{}, protocol.Reject(protocol.ErrBadRequest, "bid %d must exceed %d", amount, a.CurrentBid)
	}
	value := h.value(a.Loc)
	total := amount + value
	available := bank.Cash(bidder)
	if a.HighBidder == bidder {
		available += a.HighBidTotal
	}
	if available < total {
		return nil, Event{}, protocol.Reject(protocol.ErrNoFunds, "balance %d is below total %d", available, total)
	}

	if a.HighBidder != "" {
		bank.Credit(a.HighBidder, a.HighBidTotal)
	}
	bank.Debit(bidder, total)
	a.CurrentBid = amount
	a.HighBidder = bidder
	a.HighBidTotal = total
	a.BuildingValue = value
	if a.ExpiresTick-now <= h.p.SnipeWindowTicks {
		a.ExpiresTick += h.p.SnipeExtensionTicks
	}
	return a, Event{Subtype: protocol.AuctionNewBid, Auction: a}, nil
}

// Respond applies the owner's MATCH or DECLINE.
func (h *House) Respond(bank Bank, treasury Treasury, land Land, id, owner, response string, now uint64) (*Auction, Event, error) {
	a := h.auctions[id]
	if a == nil {
		return nil, Event{}, protocol.Reject(protocol.ErrNotFound, "auction %s not found", id)
	}
	if a.Phase != PhaseOwnerResponse {
		return nil, Event{}, protocol.Reject(protocol.ErrBadPhase, "auction %s is in phase %s", id, a.Phase)
	}
	if owner != a.Owner {
		return nil, Event{}, protocol.Reject(protocol.ErrNotOwner, "only %s may respond", a.Owner)
	}
	switch response {
	case protocol.ResponseMatch:
		if err := bank.CheckFunds(owner, a.CurrentBid); err != nil {
			return nil, Event{}, err
		}
		bank.Debit(owner, a.CurrentBid)
		treasury.AddFunds(a.CurrentBid, "auction_match")
		bank.Credit(a.HighBidder, a.HighBidTotal)
		h.complete(land, a, OutcomeMatched, now)
	case protocol.ResponseDecline:
		h.transfer(bank, land, a, now)
	default:
		return nil, Event{}, protocol.Reject(protocol.ErrBadRequest, "response must be %s or %s", protocol.ResponseMatch, protocol.ResponseDecline)
	}
	return a, Event{Subtype: protocol.AuctionCompleted, Auction: a}, nil
}

// Tick moves expired auctions forward: bidding ends in owner response or
// no_bids, and an unanswered response window declines.
func (h *House) Tick(bank Bank, land Land, now uint64) []Event {
	var events []Event
	for _, a := range h.Open() {
		switch a.Phase {
		case PhaseBidding:
			if now < a.ExpiresTick {
				continue
			}
			if a.HighBidder == "" {
				h.complete(land, a, OutcomeNoBids, now)
				events = append(events, Event{Subtype: protocol.AuctionCompleted, Auction: a})
				continue
			}
			a.Phase = PhaseOwnerResponse
			a.ResponseDeadlineTick = now + h.p.ResponseTicks
			events = append(events, Event{Subtype: protocol.AuctionOwnerResponsePhase, Auction: a})
		case PhaseOwnerResponse:
			if now < a.ResponseDeadlineTick {
				continue
			}
			h.transfer(bank, land, a, now)
			events = append(events, Event{Subtype: protocol.AuctionCompleted, Auction: a})
		}
	}
	return events
}

// transfer hands parcel and building to the high bidder and pays the
// prior owner the escrowed total.
func (h *House) transfer(bank Bank, land Land, a *Auction, now uint64) {
	bank.Credit(a.Owner, a.HighBidTotal)
	land.Transfer(a.Loc, a.HighBidder)
	h.complete(land, a, OutcomeTransferred, now)
}

func (h *House) complete(land Land, a *Auction, outcome Outcome, now uint64) {
	a.Phase = PhaseCompleted
	a.Outcome = outcome
	p := land.Parcel(a.Loc)
	if p == nil {
		return
	}
	p.UnderAuction = ""
	if outcome != OutcomeNoBids {
		p.ProtectedUntilTick = now + h.p.ProtectionTicks
	}
}
