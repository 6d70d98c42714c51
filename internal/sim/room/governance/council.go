package governance

import (
	"math"
	"sort"

	"gridcity.ai/internal/sim/tuning"
)

// Votes on these pseudo-categories move the land value tax instead of
// funding a budget.
const (
	VoteLVTRaise = "lvt_raise"
	VoteLVTLower = "lvt_lower"
)

type Params struct {
	Categories      []string
	InitialTreasury int64
	BaseLVTRate     float64
	LVTStep         float64
	MinLVTRate      float64
	MaxLVTRate      float64
}

func ParamsFromTuning(t tuning.Tuning) Params {
	g := t.Governance
	return Params{
		Categories:      append([]string(nil), g.Categories...),
		InitialTreasury: g.InitialTreasury,
		BaseLVTRate:     g.BaseLVTRate,
		LVTStep:         g.LVTStep,
		MinLVTRate:      g.MinLVTRate,
		MaxLVTRate:      g.MaxLVTRate,
	}
}

type Stats struct {
	LVTCollected   int64
	PublicSpending int64
	FeesCollected  int64
}

// State is the exported form of a council, used by snapshots.
type State struct {
	Treasury int64
	Budgets  map[string]int64
	LVTRate  float64
	Stats    Stats
}

// Council is the default city government: a treasury, per-category
// budgets funded from it by vote, and the land value tax rate.
type Council struct {
	p        Params
	treasury int64
	budgets  map[string]int64
	lvtRate  float64
	stats    Stats
}

func NewCouncil(p Params) *Council {
	c := &Council{
		p:        p,
		treasury: p.InitialTreasury,
		budgets:  make(map[string]int64, len(p.Categories)),
		lvtRate:  p.BaseLVTRate,
	}
	for _, cat := range p.Categories {
		c.budgets[cat] = 0
	}
	return c
}

// Budgets returns a copy of the category budgets.
func (c *Council) Budgets() map[string]int64 {
	out := make(map[string]int64, len(c.budgets))
	for k, v := range c.budgets {
		out[k] = v
	}
	return out
}

func (c *Council) Treasury() int64 { return c.treasury }

// SpendFromBudget draws amount from a category budget. It fails without
// side effects when the budget cannot cover it.
func (c *Council) SpendFromBudget(category string, amount int64, reason string) bool {
	if amount <= 0 {
		return amount == 0
	}
	if c.budgets[category] < amount {
		return false
	}
	c.budgets[category] -= amount
	c.stats.PublicSpending += amount
	return true
}

func (c *Council) AddFunds(amount int64, reason string) {
	if amount <= 0 {
		return
	}
	c.treasury += amount
	c.stats.FeesCollected += amount
}

// RecordLVT deposits collected land value tax.
func (c *Council) RecordLVT(amount int64) {
	if amount <= 0 {
		return
	}
	c.treasury += amount
	c.stats.LVTCollected += amount
}

func (c *Council) LVTRate() float64 { return c.lvtRate }

func (c *Council) SetLVTRate(rate float64) {
	c.lvtRate = math.Min(math.Max(rate, c.p.MinLVTRate), c.p.MaxLVTRate)
}

// VotedLVTRate is the rate implied by net raise/lower votes.
func (c *Council) VotedLVTRate(tally map[string]int) float64 {
	net := tally[VoteLVTRaise] - tally[VoteLVTLower]
	return c.p.BaseLVTRate + c.p.LVTStep*float64(net)
}

// ValidCategory reports whether a vote may target category.
func (c *Council) ValidCategory(category string) bool {
	if category == VoteLVTRaise || category == VoteLVTLower {
		return true
	}
	_, ok := c.budgets[category]
	return ok
}

// Distribute moves the whole treasury into budgets in proportion to the
// points allocated to each category. With no votes it splits evenly. The
// integer remainder stays in the treasury.
func (c *Council) Distribute(tally map[string]int) map[string]int64 {
	out := map[string]int64{}
	if c.treasury <= 0 || len(c.budgets) == 0 {
		return out
	}
	cats := make([]string, 0, len(c.budgets))
	for cat := range c.budgets {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	weights := make([]int64, len(cats))
	var sum int64
	for i, cat := range cats {
		if n := tally[cat]; n > 0 {
			weights[i] = int64(n)
			sum += int64(n)
		}
	}
	if sum == 0 {
		for i := range weights {
			weights[i] = 1
		}
		sum = int64(len(weights))
	}

	pool := c.treasury
	for i, cat := range cats {
		share := pool * weights[i] / sum
		if share <= 0 {
			continue
		}
		c.budgets[cat] += share
		c.treasury -= share
		out[cat] = share
	}
	return out
}

func (c *Council) Stats() Stats { return c.stats }

func (c *Council) Export() State {
	return State{Treasury: c.treasury, Budgets: c.Budgets(), LVTRate: c.lvtRate, Stats: c.stats}
}

// Import replaces the council state. Budgets for categories no longer
// configured are kept so no money disappears.
func (c *Council) Import(s State) {
	c.treasury = s.Treasury
	c.lvtRate = s.LVTRate
	c.stats = s.Stats
	for k, v := range s.Budgets {
		c.budgets[k] = v
	}
}
