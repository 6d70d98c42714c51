package market

import (
	"math"
	"sort"

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/room/ledger"
	"gridcity.ai/internal/sim/tuning"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSold      Status = "sold"
	StatusCancelled Status = "cancelled"
	StatusReturned  Status = "returned"
)

type Listing struct {
	ID            string
	Seller        string
	Quantity      int
	ReservePrice  int64
	BuyNowPrice   int64
	CurrentBid    int64
	CurrentBidder string
	Status        Status
	CreatedTick   uint64
	ExpiresTick   uint64
	Month         int

	// Escrow is where the listed actions came from. Monthly actions only
	// come back to the seller within the listing's month.
	Escrow ledger.Actions
}

// Bank moves cash and actions between players. *ledger.Ledger implements it.
type Bank interface {
	CheckFunds(id string, amount int64) error
	Debit(id string, amount int64)
	Credit(id string, amount int64)
	Cash(id string) int64
	ActionsTotal(id string) int
	TakeActions(id string, n int) ledger.Actions
	GrantMonthly(id string, n int)
	GrantPurchased(id string, n int)
}

// Treasury receives cancellation and early-end fees.
type Treasury interface {
	AddFunds(amount int64, reason string)
}

// Clock locates a tick inside the current game month.
type Clock struct {
	Now        uint64
	Month      int
	MonthStart uint64
	MonthTicks uint64
}

func (c Clock) MonthEnd() uint64 { return c.MonthStart + c.MonthTicks }

// Progress is the elapsed fraction of the month in [0,1].
func (c Clock) Progress() float64 {
	if c.MonthTicks == 0 || c.Now <= c.MonthStart {
		return 0
	}
	p := float64(c.Now-c.MonthStart) / float64(c.MonthTicks)
	return math.Min(p, 1)
}

type Params struct {
	MinBidIncrement     float64
	SnipeWindowTicks    uint64
	SnipeExtensionTicks uint64
	MaxPremium          float64
	FeeRate             float64
	MaxQuantity         int
}

func ParamsFromTuning(t tuning.Tuning) Params {
	m := t.Market
	return Params{
		MinBidIncrement:     m.MinBidIncrement,
		SnipeWindowTicks:    t.SecondsToTicks(m.SnipeWindowSeconds),
		SnipeExtensionTicks: t.SecondsToTicks(m.SnipeExtensionSeconds),
		MaxPremium:          m.MaxPremium,
		FeeRate:             m.FeeRate,
		MaxQuantity:         m.MaxQuantity,
	}
}

// Book holds every listing of a room. Each operation validates fully
// before moving any cash or actions.
type Book struct {
	p        Params
	newID    func() string
	listings map[string]*Listing
}

func NewBook(p Params, newID func() string) *Book {
	return &Book{p: p, newID: newID, listings: map[string]*Listing{}}
}

func (b *Book) Get(id string) *Listing { return b.listings[id] }

// All returns every listing ordered by creation.
func (b *Book) All() []*Listing {
	out := make([]*Listing, 0, len(b.listings))
	for _, l := range b.listings {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedTick != out[j].CreatedTick {
			return out[i].CreatedTick < out[j].CreatedTick
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (b *Book) Active() []*Listing {
	var out []*Listing
	for _, l := range b.All() {
		if l.Status == StatusActive {
			out = append(out, l)
		}
	}
	return out
}

// Restore inserts a listing verbatim; used when importing snapshots.
func (b *Book) Restore(l *Listing) { b.listings[l.ID] = l }

// MinBid is the lowest acceptable next bid.
func (b *Book) MinBid(l *Listing) int64 {
	if l.CurrentBid <= 0 {
		return max(l.ReservePrice, 1)
	}
	next := ceilMoney(float64(l.CurrentBid) * (1 + b.p.MinBidIncrement))
	return max(l.ReservePrice, next, l.CurrentBid+1)
}

// BuyNowQuote is the buy-now price at the clock's month progress. The
// premium decays linearly to zero at month end and is waived once the
// current bid already meets it.
func (b *Book) BuyNowQuote(l *Listing, clk Clock) int64 {
	premium := ceilMoney(float64(l.BuyNowPrice) * (1 + b.p.MaxPremium*(1-clk.Progress())))
	if l.CurrentBid >= premium {
		return max(l.BuyNowPrice, l.CurrentBid)
	}
	return max(premium, l.BuyNowPrice)
}

// Fee is charged on cancellation and early end: a share of the current
// bid that decays with month progress.
func (b *Book) Fee(l *Listing, clk Clock) int64 {
	if l.CurrentBid <= 0 {
		return 0
	}
	return ceilMoney(float64(l.CurrentBid) * b.p.FeeRate * (1 - clk.Progress()))
}

// ceilMoney rounds a cash amount up, ignoring float noise below one part in
// 1e9 so that 100*1.1 is 110 and not 111.
func ceilMoney(v float64) int64 {
	return int64(math.Ceil(v - math.Max(1, math.Abs(v))*1e-9))
}

func (b *Book) Create(bank Bank, seller string, qty int, reserve, buyNow int64, clk Clock) (*Listing, error) {
	if qty <= 0 || (b.p.MaxQuantity > 0 && qty > b.p.MaxQuantity) {
		return nil, protocol.Reject(protocol.ErrBadRequest, "quantity %d out of range", qty)
	}
	if reserve < 0 || buyNow < 0 {
		return nil, protocol.Reject(protocol.ErrBadRequest, "prices must not be negative")
	}
	if buyNow > 0 && buyNow < reserve {
		return nil, protocol.Reject(protocol.ErrBadRequest, "buy-now %d below reserve %d", buyNow, reserve)
	}
	if have := bank.ActionsTotal(seller); have < qty {
		return nil, protocol.Reject(protocol.ErrNoActions, "%d actions available, %d listed", have, qty)
	}

	escrow := bank.TakeActions(seller, qty)
	l := &Listing{
		ID:           b.newID(),
		Seller:       seller,
		Quantity:     qty,
		ReservePrice: reserve,
		BuyNowPrice:  buyNow,
		Status:       StatusActive,
		CreatedTick:  clk.Now,
		ExpiresTick:  clk.MonthEnd(),
		Month:        clk.Month,
		Escrow:       escrow,
	}
	b.listings[l.ID] = l
	return l, nil
}

func (b *Book) active(id string, clk Clock) (*Listing, error) {
	l := b.listings[id]
	if l == nil {
		return nil, protocol.Reject(protocol.ErrNotFound, "listing %s not found", id)
	}
	if l.Status != StatusActive {
		return nil, protocol.Reject(protocol.ErrBadPhase, "listing %s is %s", id, l.Status)
	}
	if clk.Now >= l.ExpiresTick {
		return nil, protocol.Reject(protocol.ErrBadPhase, "listing %s has expired", id)
	}
	return l, nil
}

// Bid places a bid, refunding the previous high bidder in full before the
// new bidder is charged. Late bids extend expiry.
func (b *Book) Bid(bank Bank, id, bidder string, amount int64, clk Clock) (*Listing, error) {
	l, err := b.active(id, clk)
	if err != nil {
		return nil, err
	}
	if bidder == l.Seller {
		return nil, protocol.Reject(protocol.ErrConflict, "seller cannot bid on own listing")
	}
	if minBid := b.MinBid(l); amount < minBid {
		return nil, protocol.Reject(protocol.ErrBadRequest, "bid %d below minimum %d", amount, minBid)
	}
	available := bank.Cash(bidder)
	if l.CurrentBidder == bidder {
		available += l.CurrentBid
	}
	if available < amount {
		return nil, protocol.Reject(protocol.ErrNoFunds, "balance %d is below bid %d", available, amount)
	}

	if l.CurrentBidder != "" {
		bank.Credit(l.CurrentBidder, l.CurrentBid)
	}
	bank.Debit(bidder, amount)
	l.CurrentBid = amount
	l.CurrentBidder = bidder
	if l.ExpiresTick-clk.Now <= b.p.SnipeWindowTicks {
		l.ExpiresTick += b.p.SnipeExtensionTicks
	}
	return l, nil
}

// BuyNow settles the listing immediately at the quoted price.
func (b *Book) BuyNow(bank Bank, id, buyer string, clk Clock) (*Listing, int64, error) {
	l, err := b.active(id, clk)
	if err != nil {
		return nil, 0, err
	}
	if l.BuyNowPrice <= 0 {
		return nil, 0, protocol.Reject(protocol.ErrBadRequest, "listing %s has no buy-now price", id)
	}
	if buyer == l.Seller {
		return nil, 0, protocol.Reject(protocol.ErrConflict, "seller cannot buy own listing")
	}
	price := b.BuyNowQuote(l, clk)
	available := bank.Cash(buyer)
	if l.CurrentBidder == buyer {
		available += l.CurrentBid
	}
	if available < price {
		return nil, 0, protocol.Reject(protocol.ErrNoFunds, "balance %d is below price %d", available, price)
	}

	if l.CurrentBidder != "" {
		bank.Credit(l.CurrentBidder, l.CurrentBid)
	}
	bank.Debit(buyer, price)
	bank.Credit(l.Seller, price)
	bank.GrantPurchased(buyer, l.Quantity)
	l.CurrentBid = price
	l.CurrentBidder = buyer
	l.Status = StatusSold
	return l, price, nil
}

// Cancel returns the escrowed actions to the seller, refunds the high
// bidder and charges the seller the decaying fee.
func (b *Book) Cancel(bank Bank, treasury Treasury, id, seller string, clk Clock) (*Listing, int64, error) {
	l, err := b.active(id, clk)
	if err != nil {
		return nil, 0, err
	}
	if l.Seller != seller {
		return nil, 0, protocol.Reject(protocol.ErrNotOwner, "listing %s belongs to %s", id, l.Seller)
	}
	fee := b.Fee(l, clk)
	if err := bank.CheckFunds(seller, fee); err != nil {
		return nil, 0, err
	}

	if l.CurrentBidder != "" {
		bank.Credit(l.CurrentBidder, l.CurrentBid)
	}
	if fee > 0 {
		bank.Debit(seller, fee)
		treasury.AddFunds(fee, "listing_cancel_fee")
	}
	b.returnEscrow(bank, l, clk.Month)
	l.Status = StatusCancelled
	return l, fee, nil
}

// EndEarly sells to the current high bidder now; the fee comes out of the
// seller's proceeds.
func (b *Book) EndEarly(bank Bank, treasury Treasury, id, seller string, clk Clock) (*Listing, int64, error) {
	l, err := b.active(id, clk)
	if err != nil {
		return nil, 0, err
	}
	if l.Seller != seller {
		return nil, 0, protocol.Reject(protocol.ErrNotOwner, "listing %s belongs to %s", id, l.Seller)
	}
	if l.CurrentBidder == "" {
		return nil, 0, protocol.Reject(protocol.ErrBadPhase, "listing %s has no bids", id)
	}
	fee := b.Fee(l, clk)
	if net := l.CurrentBid - fee; net < 0 {
		if err := bank.CheckFunds(seller, -net); err != nil {
			return nil, 0, err
		}
	}

	bank.Credit(seller, l.CurrentBid-fee)
	if fee > 0 {
		treasury.AddFunds(fee, "listing_end_early_fee")
	}
	bank.GrantPurchased(l.CurrentBidder, l.Quantity)
	l.Status = StatusSold
	return l, fee, nil
}

// Expire settles every active listing whose deadline has passed. month is
// the game month at now.
func (b *Book) Expire(bank Bank, now uint64, month int) []*Listing {
	var out []*Listing
	for _, l := range b.Active() {
		if now >= l.ExpiresTick {
			b.settle(bank, l, month)
			out = append(out, l)
		}
	}
	return out
}

// ResolveMonth settles every active listing opened before month.
func (b *Book) ResolveMonth(bank Bank, month int) []*Listing {
	var out []*Listing
	for _, l := range b.Active() {
		if l.Month < month {
			b.settle(bank, l, month)
			out = append(out, l)
		}
	}
	return out
}

// settle sells to the standing high bidder or returns the actions.
func (b *Book) settle(bank Bank, l *Listing, month int) {
	if l.CurrentBidder != "" {
		bank.Credit(l.Seller, l.CurrentBid)
		bank.GrantPurchased(l.CurrentBidder, l.Quantity)
		l.Status = StatusSold
		return
	}
	b.returnEscrow(bank, l, month)
	l.Status = StatusReturned
}

// returnEscrow gives the seller back what the listing took. The monthly
// part lapses once the listing's month is over, as the pool it came from
// has been replaced.
func (b *Book) returnEscrow(bank Bank, l *Listing, month int) {
	if month == l.Month {
		bank.GrantMonthly(l.Seller, l.Escrow.Monthly)
	}
	bank.GrantPurchased(l.Seller, l.Escrow.Purchased)
}
