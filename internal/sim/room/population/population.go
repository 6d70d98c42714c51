package population

import (
	"math"
	"sort"

	"gridcity.ai/internal/sim/room/economy"
	"gridcity.ai/internal/sim/room/grid"
	"gridcity.ai/internal/sim/tuning"
)

type Params = tuning.Population

// Warning levels reported by Step.
const (
	WarningNone = iota
	WarningPoor
	WarningSevere
)

// State is the city's demographics. Ages keeps fractional cohort masses so
// slow daily aging accumulates; Cohorts is the integer view of them.
type State struct {
	Cohorts      economy.Cohorts
	Ages         [3]float64
	Accumulator  float64
	PoorDays     int
	Distribution map[grid.Coord]int
}

func (s *State) Total() int { return s.Cohorts.Total() }

type Outcome struct {
	Before     int
	After      int
	Initial    bool
	Immigrated int
	Emigrated  int
	Warning    int
}

// Attractiveness weighs core resources (jobs, housing, food, energy) at 70%
// and quality (education, healthcare, CARENS) at 30%.
func Attractiveness(j economy.JEEFHH, c economy.CARENS) float64 {
	m := func(r string) float64 {
		if idx, ok := j.Resources[r]; ok {
			return idx.Multiplier
		}
		return 1.0
	}
	core := (m("jobs") + m("housing") + m("food") + m("energy")) / 4
	quality := (m("education") + m("healthcare") + c.Multiplier) / 3
	return 0.7*core + 0.3*quality
}

// Step advances the population by one day. maxPop is the housing capacity
// in residents; the population never exceeds it.
func (s *State) Step(p Params, attr float64, maxPop int) Outcome {
	before := s.Total()
	out := Outcome{Before: before}

	if attr < p.PoorThreshold {
		s.PoorDays++
	} else {
		s.PoorDays = 0
	}

	switch {
	case before == 0:
		if maxPop > 0 {
			initial := int(math.Ceil(p.InitialCohortShare * float64(maxPop)))
			if initial > p.InitialCohortCap {
				initial = p.InitialCohortCap
			}
			s.Accumulator = float64(initial)
			out.Initial = initial > 0
		}
	case before < p.SmallTownThreshold:
		if attr >= p.SmallTownMinAttract && maxPop > before {
			s.Accumulator += float64(maxPop-before) * p.SmallTownGrowthRate
		}
	default:
		if attr > p.ImmigrationThreshold && maxPop > before {
			rate := math.Min(p.MaxDailyImmigration, (attr-p.ImmigrationThreshold)*p.ImmigrationSensitivity)
			s.Accumulator += float64(maxPop-before) * rate
		}
		switch {
		case s.PoorDays >= p.SevereDays:
			out.Warning = WarningSevere
		case s.PoorDays >= p.WarningDays:
			out.Warning = WarningPoor
		}
		if s.PoorDays >= p.EmigrationDays {
			rate := p.EmigrationBaseRate + (p.PoorThreshold-attr)*p.EmigrationSeverityRate
			if s.PoorDays >= p.CrisisDays {
				rate *= 2
			}
			rate = math.Min(math.Max(rate, 0), 1)
			s.Accumulator -= s.Accumulator * rate
		}
	}

	if s.Accumulator > float64(maxPop) {
		s.Accumulator = float64(maxPop)
	}
	if s.Accumulator < 0 {
		s.Accumulator = 0
	}
	after := int(math.Ceil(s.Accumulator - 1e-9))
	if after > maxPop {
		after = maxPop
	}
	if after > before {
		out.Immigrated = after - before
	} else {
		out.Emigrated = before - after
	}
	out.After = after

	s.age(p, before)
	sum := s.Ages[0] + s.Ages[1] + s.Ages[2]
	switch {
	case s.Accumulator <= 0:
		s.Ages = [3]float64{}
	case sum <= 0:
		shares := p.ChildShare + p.AdultShare + p.SeniorShare
		s.Ages = [3]float64{
			s.Accumulator * p.ChildShare / shares,
			s.Accumulator * p.AdultShare / shares,
			s.Accumulator * p.SeniorShare / shares,
		}
	default:
		scale := s.Accumulator / sum
		for i := range s.Ages {
			s.Ages[i] *= scale
		}
	}
	s.Cohorts = rebalance(s.Ages, after, p)
	return out
}

// age applies the daily cohort transitions to the fractional masses.
func (s *State) age(p Params, before int) {
	if before == 0 {
		s.Ages = [3]float64{}
		return
	}
	ch, ad, se := s.Ages[0], s.Ages[1], s.Ages[2]
	c2a := ch * p.ChildToAdultRate
	a2s := ad * p.AdultToSeniorRate
	deaths := se * p.SeniorMortalityRate
	s.Ages = [3]float64{ch - c2a, ad + c2a - a2s, se + a2s - deaths}
}

// rebalance scales cohort weights to total with largest-remainder rounding,
// falling back to the default split when there are no weights.
func rebalance(weights [3]float64, total int, p Params) economy.Cohorts {
	if total <= 0 {
		return economy.Cohorts{}
	}
	sum := weights[0] + weights[1] + weights[2]
	if sum <= 0 {
		weights = [3]float64{p.ChildShare, p.AdultShare, p.SeniorShare}
		sum = weights[0] + weights[1] + weights[2]
	}
	counts := largestRemainder(weights[:], sum, total)
	return economy.Cohorts{Children: counts[0], Adults: counts[1], Seniors: counts[2]}
}

func largestRemainder(weights []float64, sum float64, total int) []int {
	counts := make([]int, len(weights))
	type rem struct {
		i int
		f float64
	}
	rems := make([]rem, len(weights))
	assigned := 0
	for i, w := range weights {
		ideal := float64(total) * w / sum
		counts[i] = int(math.Floor(ideal))
		assigned += counts[i]
		rems[i] = rem{i: i, f: ideal - math.Floor(ideal)}
	}
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].f > rems[b].f })
	for k := 0; assigned < total; k++ {
		counts[rems[k%len(rems)].i]++
		assigned++
	}
	return counts
}

// Home is a housing building that can take residents.
type Home struct {
	Loc      grid.Coord
	Capacity int
	Score    float64
}

// Distribute places total residents across homes in proportion to their
// score, never above a home's capacity. Residents that do not fit are left
// undistributed.
func Distribute(total int, homes []Home) map[grid.Coord]int {
	out := make(map[grid.Coord]int, len(homes))
	capSum := 0
	active := make([]Home, 0, len(homes))
	for _, h := range homes {
		out[h.Loc] = 0
		if h.Capacity > 0 {
			capSum += h.Capacity
			active = append(active, h)
		}
	}
	remaining := total
	if remaining > capSum {
		remaining = capSum
	}

	for remaining > 0 && len(active) > 0 {
		weights := make([]float64, len(active))
		var sum float64
		for i, h := range active {
			weights[i] = math.Max(h.Score, 0)
			sum += weights[i]
		}
		if sum <= 0 {
			for i := range weights {
				weights[i] = 1
			}
			sum = float64(len(weights))
		}

		// Fill homes whose proportional share meets their capacity, then
		// redistribute what is left among the others.
		next := active[:0:0]
		filled := 0
		for i, h := range active {
			if float64(remaining)*weights[i]/sum >= float64(h.Capacity) {
				out[h.Loc] = h.Capacity
				filled += h.Capacity
			} else {
				next = append(next, h)
			}
		}
		if filled > 0 {
			remaining -= filled
			active = next
			continue
		}

		counts := largestRemainder(weights, sum, remaining)
		for i, h := range active {
			out[h.Loc] = counts[i]
		}
		remaining = 0
	}
	return out
}

// MaxPopulation is the housing capacity in residents.
func MaxPopulation(housingUnits float64, occupantsPerUnit int) int {
	if housingUnits <= 0 {
		return 0
	}
	return int(math.Floor(housingUnits)) * occupantsPerUnit
}

func ParamsFromTuning(t tuning.Tuning) Params { return t.Population }
