package economy

import (
	"math"

	"gridcity.ai/internal/sim/catalogs"
	"gridcity.ai/internal/sim/room/grid"
	"gridcity.ai/internal/sim/tuning"
)

const (
	MinResourceMultiplier = 0.4
	MaxResourceMultiplier = 1.6
	MinCARENSMultiplier   = 0.6
	MaxCARENSMultiplier   = 1.4
	MaxCARENSPoints       = 100.0
)

type Cohorts struct {
	Children int
	Adults   int
	Seniors  int
}

func (c Cohorts) Total() int { return c.Children + c.Adults + c.Seniors }

type ResourceIndex struct {
	Supply     float64
	Demand     float64
	Multiplier float64
}

type JEEFHH struct {
	Resources map[string]ResourceIndex
	Global    float64
}

type CARENS struct {
	Points     map[string]float64
	Multiplier float64
}

type Params struct {
	CacheTTLTicks      uint64
	CarensRadius       int
	DefaultEffectRange float64
	MinOperatingLevel  float64
	JobsPerOccupant    float64
	FoodPerOccupant    float64
	Demand             map[string]tuning.CohortDemand
}

func ParamsFromTuning(t tuning.Tuning) Params {
	return Params{
		CacheTTLTicks:      uint64(t.Economy.CacheTTLTicks),
		CarensRadius:       t.Economy.CarensRadius,
		DefaultEffectRange: t.Economy.DefaultEffectRange,
		MinOperatingLevel:  t.Economy.MinOperatingLevel,
		JobsPerOccupant:    t.Economy.JobsPerOccupant,
		FoodPerOccupant:    t.Economy.FoodPerOccupant,
		Demand:             t.Economy.DemandCoefficients,
	}
}

// ResourceMultiplier maps a supply/demand ratio to [0.4, 1.6]; zero demand is neutral.
func ResourceMultiplier(supply, demand float64) float64 {
	if demand <= 0 {
		return 1.0
	}
	return clamp(0.4+0.6*(supply/demand), MinResourceMultiplier, MaxResourceMultiplier)
}

// ComputeJEEFHH sums supply over completed buildings and age-weighted
// demand over cohorts. Energy demand comes from buildings instead.
func ComputeJEEFHH(buildings []*grid.Building, cat *catalogs.BuildingCatalog, cohorts Cohorts, demand map[string]tuning.CohortDemand) JEEFHH {
	supply := map[string]float64{}
	energyDemand := 0.0
	for _, b := range buildings {
		if b.UnderConstruction {
			continue
		}
		def, ok := cat.Get(b.Type)
		if !ok {
			continue
		}
		for _, r := range catalogs.Resources {
			supply[r] += def.Resources.Provided(r)
		}
		energyDemand += def.Resources.EnergyRequired
	}

	out := JEEFHH{Resources: make(map[string]ResourceIndex, len(catalogs.Resources)), Global: MaxResourceMultiplier}
	for _, r := range catalogs.Resources {
		var d float64
		if r == "energy" {
			d = energyDemand
		} else if coeff, ok := demand[r]; ok {
			d = float64(cohorts.Children)*coeff.Children +
				float64(cohorts.Adults)*coeff.Adults +
				float64(cohorts.Seniors)*coeff.Seniors
		}
		idx := ResourceIndex{Supply: supply[r], Demand: d, Multiplier: ResourceMultiplier(supply[r], d)}
		out.Resources[r] = idx
		if idx.Multiplier < out.Global {
			out.Global = idx.Multiplier
		}
	}
	return out
}

// NormalizeEffect treats |v| <= 1 as a decimal fraction of the 100-point scale.
func NormalizeEffect(v float64) float64 {
	if math.Abs(v) <= 1 {
		return v * 100
	}
	return v
}

// CombineCARENS maps the average of the six category points to [0.6, 1.4].
func CombineCARENS(points map[string]float64) float64 {
	var sum float64
	for _, c := range catalogs.Livability {
		sum += clamp(points[c], -MaxCARENSPoints, MaxCARENSPoints)
	}
	avg := sum / float64(len(catalogs.Livability))
	norm := (avg + MaxCARENSPoints) / (2 * MaxCARENSPoints)
	return clamp(0.6+0.8*norm, MinCARENSMultiplier, MaxCARENSMultiplier)
}

// ComputeCARENS adds every completed building's effect to a neutral baseline.
func ComputeCARENS(buildings []*grid.Building, cat *catalogs.BuildingCatalog) CARENS {
	points := neutralPoints()
	for _, b := range buildings {
		if b.UnderConstruction {
			continue
		}
		def, ok := cat.Get(b.Type)
		if !ok {
			continue
		}
		for _, c := range catalogs.Livability {
			if e, ok := def.Livability[c]; ok {
				points[c] += NormalizeEffect(e.Value())
			}
		}
	}
	return finishCARENS(points)
}

// LocalCARENS sums contributions of nearby completed buildings, each
// attenuated linearly to zero at the category range.
func LocalCARENS(target *grid.Building, g *grid.Grid, cat *catalogs.BuildingCatalog, radius int, defaultRange float64) CARENS {
	points := neutralPoints()
	for _, o := range g.Within(target.Loc, radius) {
		def, ok := cat.Get(o.Type)
		if !ok {
			continue
		}
		d := float64(target.Loc.Chebyshev(o.Loc))
		for _, c := range catalogs.Livability {
			e, ok := def.Livability[c]
			if !ok {
				continue
			}
			rng := e.Reach()
			if rng <= 0 {
				rng = defaultRange
			}
			w := 1 - d/rng
			if w <= 0 {
				continue
			}
			points[c] += NormalizeEffect(e.Value()) * w
		}
	}
	return finishCARENS(points)
}

// LocalNeeds averages capped ratios of 8-adjacent supply over the building's
// requirements, floored at minLevel. Housing adds per-occupant jobs and food needs.
func LocalNeeds(target *grid.Building, g *grid.Grid, cat *catalogs.BuildingCatalog, p Params) float64 {
	def, ok := cat.Get(target.Type)
	if !ok {
		return 1.0
	}
	needs := map[string]float64{}
	for _, r := range catalogs.Resources {
		if v := def.Resources.Required(r); v > 0 {
			needs[r] += v
		}
	}
	if def.Resources.HousingProvided > 0 && target.Residents > 0 {
		needs["jobs"] += float64(target.Residents) * p.JobsPerOccupant
		needs["food"] += float64(target.Residents) * p.FoodPerOccupant
	}
	if len(needs) == 0 {
		return 1.0
	}

	supply := map[string]float64{}
	for _, n := range g.Neighbors8(target.Loc) {
		o := g.Building(n)
		if o == nil || o.UnderConstruction {
			continue
		}
		od, ok := cat.Get(o.Type)
		if !ok {
			continue
		}
		for r := range needs {
			supply[r] += od.Resources.Provided(r)
		}
	}

	var sum float64
	for _, r := range catalogs.Resources {
		need, ok := needs[r]
		if !ok {
			continue
		}
		sum += math.Min(1, supply[r]/need)
	}
	level := sum / float64(len(needs))
	if level < p.MinOperatingLevel {
		return p.MinOperatingLevel
	}
	return level
}

// UBIMultiplier is (budget per resident / 100) + 1, or 1 with no residents.
func UBIMultiplier(ubiBudget int64, residents int) float64 {
	if residents <= 0 || ubiBudget <= 0 {
		return 1.0
	}
	return float64(ubiBudget)/float64(residents)/100 + 1.0
}

func neutralPoints() map[string]float64 {
	points := make(map[string]float64, len(catalogs.Livability))
	for _, c := range catalogs.Livability {
		points[c] = 0
	}
	return points
}

func finishCARENS(points map[string]float64) CARENS {
	for c, v := range points {
		points[c] = clamp(v, -MaxCARENSPoints, MaxCARENSPoints)
	}
	return CARENS{Points: points, Multiplier: CombineCARENS(points)}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
