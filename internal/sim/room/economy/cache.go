package economy

import (
	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/room/grid"
)

// Local holds the per-building factors that depend only on the neighbourhood.
type Local struct {
	Needs  float64
	CARENS float64
}

type CacheStats struct {
	GlobalHits   uint64
	GlobalMisses uint64
	LocalHits    uint64
	LocalMisses  uint64
}

// Cache memoizes index results at three scopes: global (TTL plus dirty
// flag), per building (invalidated by radius) and per player wealth.
type Cache struct {
	p   Params
	cat *catalogs.BuildingCatalog
	g   *grid.Grid

	globalOK      bool
	globalTick    uint64
	globalCohorts Cohorts
	jeefhh        JEEFHH
	carens        CARENS

	local  map[grid.Coord]Local
	wealth map[string]int64

	stats CacheStats
}

func NewCache(p Params, cat *catalogs.BuildingCatalog, g *grid.Grid) *Cache {
	return &Cache{
		p:      p,
		cat:    cat,
		g:      g,
		local:  map[grid.Coord]Local{},
		wealth: map[string]int64{},
	}
}

func (c *Cache) Stats() CacheStats { return c.stats }

// Global returns the city-wide indices, recomputing when dirty, when the
// TTL has elapsed or when the cohorts differ from the cached ones.
func (c *Cache) Global(now uint64, cohorts Cohorts) (JEEFHH, CARENS) {
	fresh := c.globalOK && cohorts == c.globalCohorts && now >= c.globalTick && now-c.globalTick < c.p.CacheTTLTicks
	if fresh {
		c.stats.GlobalHits++
		return c.jeefhh, c.carens
	}
	c.stats.GlobalMisses++
	completed := c.g.Completed()
	c.jeefhh = ComputeJEEFHH(completed, c.cat, cohorts, c.p.Demand)
	c.carens = ComputeCARENS(completed, c.cat)
	c.globalOK = true
	c.globalTick = now
	c.globalCohorts = cohorts
	return c.jeefhh, c.carens
}

// Local returns the cached neighbourhood factors of a completed building.
func (c *Cache) Local(b *grid.Building) Local {
	if l, ok := c.local[b.Loc]; ok {
		c.stats.LocalHits++
		return l
	}
	c.stats.LocalMisses++
	l := Local{
		Needs:  LocalNeeds(b, c.g, c.cat, c.p),
		CARENS: LocalCARENS(b, c.g, c.cat, c.p.CarensRadius, c.p.DefaultEffectRange).Multiplier,
	}
	c.local[b.Loc] = l
	return l
}

// Performance combines cached local factors with the global multiplier,
// condition and UBI, which are applied at read time.
func (c *Cache) Performance(b *grid.Building, globalMult, ubi float64) grid.Performance {
	def, ok := c.cat.Get(b.Type)
	if !ok || b.UnderConstruction {
		return grid.Performance{}
	}
	l := c.Local(b)
	return grid.Performance{
		Revenue:     def.Economics.MaxRevenue * l.Needs * globalMult * l.CARENS * b.Condition * ubi,
		Maintenance: def.Economics.MaintenanceCost * (2 - b.Condition),
		LocalNeeds:  l.Needs,
		LocalCARENS: l.CARENS,
	}
}

// MarkDirty forces the next Global call to recompute.
func (c *Cache) MarkDirty() { c.globalOK = false }

// InvalidateAround drops local factors of every building within the
// influence radius of at, and marks the global indices dirty.
func (c *Cache) InvalidateAround(at grid.Coord) {
	c.globalOK = false
	r := c.p.CarensRadius
	if r < 1 {
		r = 1
	}
	for loc := range c.local {
		if loc.Chebyshev(at) <= r {
			delete(c.local, loc)
		}
	}
}

func (c *Cache) InvalidateLocal(at grid.Coord) { delete(c.local, at) }

func (c *Cache) InvalidateAll() {
	c.globalOK = false
	clear(c.local)
	clear(c.wealth)
}

// Wealth returns the memoized wealth of a player, computing it on a miss.
func (c *Cache) Wealth(id string, compute func() int64) int64 {
	if v, ok := c.wealth[id]; ok {
		return v
	}
	v := compute()
	c.wealth[id] = v
	return v
}

func (c *Cache) InvalidatePlayer(id string) { delete(c.wealth, id) }
