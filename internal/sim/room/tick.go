package room

import "time"

// Tick advances the room clock by one tick and runs everything scheduled
// for it: construction, auction and listing deadlines, then the daily and
// monthly cycles. Nothing advances before the game has started or after
// victory.
func (r *Room) Tick() {
	if !r.ledger.Started() || r.gameOver {
		return
	}
	stepStart := time.Now()
	now := r.tick.Add(1)

	for _, b := range r.grid.Due(now) {
		r.completeBuilding(b, now)
	}
	for _, ev := range r.auctions.Tick(r.ledger, r.grid, now) {
		r.applyAuctionEvent(ev)
	}
	for _, l := range r.market.Expire(r.ledger, now, r.clock(now).Month) {
		r.listingSettled(l)
	}

	if day := r.gameDay(now); day > r.lastDay {
		r.lastDay = day
		r.daily(now, day)
		if r.tune.MonthDays > 0 && day%r.tune.MonthDays == 0 {
			r.monthly(now, day/r.tune.MonthDays)
		}
		if r.cfg.VictoryDay > 0 && day >= r.cfg.VictoryDay {
			r.declareVictory(now, day)
		}
	}

	// The tick that ends the game always snapshots the final state.
	if every := uint64(r.tune.SnapshotEveryTicks); (every > 0 && now%every == 0) || r.gameOver {
		r.pushSnapshot()
	}

	r.flushDelta()
	r.publishMetrics(float64(time.Since(stepStart).Microseconds()) / 1000.0)
}

// Advance runs n ticks. It is meant for tests and replays.
func (r *Room) Advance(n int) {
	for i := 0; i < n; i++ {
		r.Tick()
	}
}

// Start begins the game clock and steps pre-game voting points down.
// It returns false if the game was already running.
func (r *Room) Start() bool {
	if !r.ledger.StartGame() {
		return false
	}
	for _, p := range r.ledger.Players() {
		r.touchPlayer(p.ID)
	}
	r.logger.Printf("game started with %d players", r.ledger.Len())
	return true
}

// maybeStart starts the game once enough players are present.
func (r *Room) maybeStart() {
	if r.cfg.StartPlayers > 0 && !r.ledger.Started() && r.ledger.Len() >= r.cfg.StartPlayers {
		r.Start()
	}
}

// pushSnapshot hands a snapshot to the sink without blocking and returns
// its tick.
func (r *Room) pushSnapshot() uint64 {
	now := r.tick.Load()
	if r.snapshotSink == nil {
		return now
	}
	select {
	case r.snapshotSink <- r.ExportSnapshot():
	default:
		// Drop snapshot if sink is backed up.
		r.logger.Printf("snapshot at tick %d dropped: sink full", now)
	}
	return now
}
