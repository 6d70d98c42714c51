package room

import (
	"math"

	"gridcity.ai/internal/protocol"
)

// monthly collects land value tax, funds budgets by vote, refreshes
// actions and voting points and resolves the previous month's listings.
func (r *Room) monthly(now uint64, month int) {
	lvt := r.collectLVT()

	var distributed map[string]int64
	if b, ok := r.gov.(budgeting); ok {
		distributed = b.Distribute(r.ledger.Tally())
	}
	allowance := r.ledger.MonthlyRefresh(month)

	var resolved []protocol.ListingView
	for _, l := range r.market.ResolveMonth(r.ledger, month) {
		r.listingSettled(l)
		resolved = append(resolved, listingView(l))
	}
	for _, p := range r.ledger.Players() {
		r.touchPlayer(p.ID)
	}
	r.delta.governance = true

	// Budgets changed, so UBI may have too.
	r.refreshPerformance()

	r.emit(protocol.TypeMonthlyUpdate, "", protocol.MonthlyUpdate{
		Month:        month,
		Allowance:    allowance,
		LVTRate:      r.gov.LVTRate(),
		LVTCollected: lvt,
		Distributed:  distributed,
		Resolved:     resolved,
	})
	r.logger.Printf("month %d: lvt=%d treasury=%d allowance=%d", month, lvt, r.gov.Treasury(), allowance)
}

// collectLVT charges every owner price × rate per parcel, capped at the
// cash they hold, and deposits the total with the government.
func (r *Room) collectLVT() int64 {
	rate := r.gov.LVTRate()
	if rate <= 0 {
		return 0
	}
	var total int64
	for _, p := range r.ledger.Players() {
		var due int64
		for _, c := range r.grid.OwnedBy(p.ID) {
			due += int64(math.Round(float64(r.grid.Parcel(c).Price) * rate))
		}
		paid := min(due, max(p.Cash, 0))
		if paid <= 0 {
			continue
		}
		r.ledger.Debit(p.ID, paid)
		total += paid
		r.audit(AuditEntry{Actor: p.ID, Action: "LVT", Amount: paid, Reason: "monthly"})
	}
	if b, ok := r.gov.(budgeting); ok {
		b.RecordLVT(total)
	} else {
		r.gov.AddFunds(total, "lvt")
	}
	return total
}
