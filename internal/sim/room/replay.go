package room

import "fmt"

// ApplyLogged re-applies one tx log entry: the clock is advanced to the
// logged tick and the intent processed again. The outcome must match the
// logged result. Entries older than the current tick are skipped, as are
// entries at the current tick the room has already seen (a snapshot taken
// mid-tick).
func (r *Room) ApplyLogged(e TxLogEntry) (bool, error) {
	now := r.tick.Load()
	if e.Tick < now || (e.Tick == now && r.seen.Has(e.Intent.ID)) {
		return false, nil
	}
	if !r.ledger.Started() {
		r.Start()
	}
	for r.tick.Load() < e.Tick {
		if r.gameOver {
			return false, fmt.Errorf("tx %s at tick %d is after game over (tick %d)", e.Intent.ID, e.Tick, r.tick.Load())
		}
		r.Tick()
	}
	res := r.Process(e.Intent)
	if res.Success != e.Result.Success {
		return true, fmt.Errorf("tx %s at tick %d: success=%v logged %v (%s)", e.Intent.ID, e.Tick, res.Success, e.Result.Success, res.Code)
	}
	if res.NewBalance != nil && e.Result.NewBalance != nil && *res.NewBalance != *e.Result.NewBalance {
		return true, fmt.Errorf("tx %s at tick %d: balance=%d logged %d", e.Intent.ID, e.Tick, *res.NewBalance, *e.Result.NewBalance)
	}
	return true, nil
}
