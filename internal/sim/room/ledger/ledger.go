package ledger

import (
	"sort"

	"gridcity.ai/internal/protocol"
	"gridcity.ai/internal/sim/tuning"
)

type Actions struct {
	Monthly   int
	Purchased int
}

func (a Actions) Total() int { return a.Monthly + a.Purchased }

type Player struct {
	ID           string
	Name         string
	Cash         int64
	Actions      Actions
	VotingPoints int
	Allocations  map[string]int
	TxLog        []string
	JoinedTick   uint64
}

type Params struct {
	StartingBalance     int64
	BaseMonthlyActions  int
	ActionDecayPerMonth int
	MinMonthlyActions   int
	PreGameVotingPoints int
	InGameVotingPoints  int
	MonthlyVotingPoints int
	TxLogSize           int
	SinglePlayer        bool
}

func ParamsFromTuning(t tuning.Tuning, singlePlayer bool) Params {
	l := t.Ledger
	return Params{
		StartingBalance:     l.StartingBalance,
		BaseMonthlyActions:  l.BaseMonthlyActions,
		ActionDecayPerMonth: l.ActionDecayPerMonth,
		MinMonthlyActions:   l.MinMonthlyActions,
		PreGameVotingPoints: l.PreGameVotingPoints,
		InGameVotingPoints:  l.InGameVotingPoints,
		MonthlyVotingPoints: l.MonthlyVotingPoints,
		TxLogSize:           l.TxLogSize,
		SinglePlayer:        singlePlayer,
	}
}

// Ledger is the single authoritative store of player cash and actions.
type Ledger struct {
	p       Params
	players map[string]*Player
	started bool
	month   int
	orphan  func(id string, amount int64)
}

func New(p Params) *Ledger {
	return &Ledger{p: p, players: map[string]*Player{}}
}

func (l *Ledger) Params() Params { return l.p }

func (l *Ledger) Started() bool { return l.started }

func (l *Ledger) Month() int { return l.month }

// Allowance is the monthly action grant for a month index.
func (l *Ledger) Allowance(month int) int {
	a := l.p.BaseMonthlyActions - l.p.ActionDecayPerMonth*month
	if a < l.p.MinMonthlyActions {
		a = l.p.MinMonthlyActions
	}
	return a
}

func (l *Ledger) Get(id string) *Player { return l.players[id] }

// Ensure returns the player, creating it with the starting balance,
// current allowance and voting points on first reference.
func (l *Ledger) Ensure(id, name string, now uint64) *Player {
	if p := l.players[id]; p != nil {
		if name != "" && p.Name == "" {
			p.Name = name
		}
		return p
	}
	if name == "" {
		name = id
	}
	vp := l.p.PreGameVotingPoints
	if l.started {
		vp = l.p.InGameVotingPoints
	}
	p := &Player{
		ID:           id,
		Name:         name,
		Cash:         l.p.StartingBalance,
		Actions:      Actions{Monthly: l.Allowance(l.month)},
		VotingPoints: vp,
		Allocations:  map[string]int{},
		JoinedTick:   now,
	}
	l.players[id] = p
	return p
}

// Restore inserts a player verbatim; used when importing snapshots.
func (l *Ledger) Restore(p *Player) {
	if p.Allocations == nil {
		p.Allocations = map[string]int{}
	}
	l.players[p.ID] = p
}

// RestoreClock sets the game phase and month without touching players.
func (l *Ledger) RestoreClock(started bool, month int) {
	l.started = started
	l.month = month
}

func (l *Ledger) Remove(id string) bool {
	if _, ok := l.players[id]; !ok {
		return false
	}
	delete(l.players, id)
	return true
}

// Players returns all players ordered by id.
func (l *Ledger) Players() []*Player {
	out := make([]*Player, 0, len(l.players))
	for _, p := range l.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) Len() int { return len(l.players) }

func (l *Ledger) CheckFunds(id string, amount int64) error {
	p := l.players[id]
	if p == nil {
		return protocol.Reject(protocol.ErrNotFound, "unknown player %s", id)
	}
	if amount < 0 {
		return protocol.Reject(protocol.ErrBadRequest, "negative amount %d", amount)
	}
	if p.Cash < amount {
		return protocol.Reject(protocol.ErrNoFunds, "balance %d is below %d", p.Cash, amount)
	}
	return nil
}

// Debit removes cash. Callers validate with CheckFunds first.
func (l *Ledger) Debit(id string, amount int64) {
	if p := l.players[id]; p != nil {
		p.Cash -= amount
	}
}

// Credit adds cash. Credits owed to a player who has left go to the
// orphan sink, if one is set.
func (l *Ledger) Credit(id string, amount int64) {
	if p := l.players[id]; p != nil {
		p.Cash += amount
		return
	}
	if l.orphan != nil && amount > 0 {
		l.orphan(id, amount)
	}
}

// SetOrphanSink receives credits addressed to departed players, such as an
// auction refund for a bidder who left.
func (l *Ledger) SetOrphanSink(fn func(id string, amount int64)) { l.orphan = fn }

func (l *Ledger) Cash(id string) int64 {
	if p := l.players[id]; p != nil {
		return p.Cash
	}
	return 0
}

func (l *Ledger) CheckActions(id string, n int) error {
	p := l.players[id]
	if p == nil {
		return protocol.Reject(protocol.ErrNotFound, "unknown player %s", id)
	}
	if n < 0 {
		return protocol.Reject(protocol.ErrBadRequest, "negative action count %d", n)
	}
	if l.p.SinglePlayer {
		return nil
	}
	if p.Actions.Total() < n {
		return protocol.Reject(protocol.ErrNoActions, "%d actions available, %d required", p.Actions.Total(), n)
	}
	return nil
}

// SpendActions draws from the monthly pool first, then the purchased pool.
// Single-player rooms have unlimited actions.
func (l *Ledger) SpendActions(id string, n int) {
	p := l.players[id]
	if p == nil || n <= 0 || l.p.SinglePlayer {
		return
	}
	fromMonthly := min(n, p.Actions.Monthly)
	p.Actions.Monthly -= fromMonthly
	rest := n - fromMonthly
	p.Actions.Purchased -= min(rest, p.Actions.Purchased)
}

// TakeActions removes n actions for escrow and reports how many came from
// each pool. Unlike SpendActions it applies in single-player rooms too.
func (l *Ledger) TakeActions(id string, n int) Actions {
	p := l.players[id]
	if p == nil || n <= 0 {
		return Actions{}
	}
	fromMonthly := min(n, p.Actions.Monthly)
	fromPurchased := min(n-fromMonthly, p.Actions.Purchased)
	p.Actions.Monthly -= fromMonthly
	p.Actions.Purchased -= fromPurchased
	return Actions{Monthly: fromMonthly, Purchased: fromPurchased}
}

func (l *Ledger) ActionsTotal(id string) int {
	if p := l.players[id]; p != nil {
		return p.Actions.Total()
	}
	return 0
}

// GrantMonthly puts escrowed actions back into the current monthly pool.
func (l *Ledger) GrantMonthly(id string, n int) {
	if p := l.players[id]; p != nil && n > 0 {
		p.Actions.Monthly += n
	}
}

// GrantPurchased adds actions that never expire.
func (l *Ledger) GrantPurchased(id string, n int) {
	if p := l.players[id]; p != nil && n > 0 {
		p.Actions.Purchased += n
	}
}

// StartGame steps pre-game voting points down to the in-game allotment.
// It returns false if the game had already started.
func (l *Ledger) StartGame() bool {
	if l.started {
		return false
	}
	l.started = true
	step := l.p.PreGameVotingPoints - l.p.InGameVotingPoints
	for _, p := range l.players {
		p.VotingPoints = max(p.VotingPoints-step, 0)
	}
	return true
}

// MonthlyRefresh replaces every monthly pool with the allowance for month
// and awards voting points. Purchased actions are untouched.
func (l *Ledger) MonthlyRefresh(month int) int {
	l.month = month
	allowance := l.Allowance(month)
	for _, p := range l.players {
		p.Actions.Monthly = allowance
		p.VotingPoints += l.p.MonthlyVotingPoints
	}
	return allowance
}

func (l *Ledger) CheckVotingPoints(id string, n int) error {
	p := l.players[id]
	if p == nil {
		return protocol.Reject(protocol.ErrNotFound, "unknown player %s", id)
	}
	if n <= 0 {
		return protocol.Reject(protocol.ErrBadRequest, "points must be positive")
	}
	if p.VotingPoints < n {
		return protocol.Reject(protocol.ErrNoActions, "%d voting points available, %d required", p.VotingPoints, n)
	}
	return nil
}

// Allocate moves voting points into a category.
func (l *Ledger) Allocate(id, category string, n int) {
	p := l.players[id]
	if p == nil {
		return
	}
	p.VotingPoints -= n
	p.Allocations[category] += n
}

// Tally sums allocations across players by category.
func (l *Ledger) Tally() map[string]int {
	out := map[string]int{}
	for _, p := range l.players {
		for c, n := range p.Allocations {
			out[c] += n
		}
	}
	return out
}

// Record appends a transaction id to the player's bounded log.
func (l *Ledger) Record(id, txID string) {
	p := l.players[id]
	if p == nil {
		return
	}
	p.TxLog = append(p.TxLog, txID)
	if n := len(p.TxLog) - l.p.TxLogSize; l.p.TxLogSize > 0 && n > 0 {
		p.TxLog = append(p.TxLog[:0:0], p.TxLog[n:]...)
	}
}
