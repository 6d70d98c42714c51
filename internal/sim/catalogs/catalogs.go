package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// Resource names of the JEEFHH index, in display order.
var Resources = [6]string{"jobs", "energy", "education", "food", "housing", "healthcare"}

// Livability names of the CARENS index, in display order.
var Livability = [6]string{"culture", "affordability", "resilience", "environment", "noise", "safety"}

type Catalogs struct {
	Buildings BuildingCatalog
}

type BuildingCatalog struct {
	ByID       map[string]BuildingDef
	IDs        []string
	Categories []string
	Digest     string
}

type BuildingDef struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Category    string               `json:"category"`
	Description string               `json:"description,omitempty"`
	IsDefault   bool                 `json:"isDefault,omitempty"`
	CivicScore  float64              `json:"civicScore,omitempty"`
	Economics   Economics            `json:"economics"`
	Resources   ResourceDef          `json:"resources"`
	Livability  map[string]EffectDef `json:"livability,omitempty"`
}

type Economics struct {
	BuildCost        int64   `json:"buildCost"`
	ConstructionDays float64 `json:"constructionDays"`
	MaxRevenue       float64 `json:"maxRevenue"`
	MaintenanceCost  float64 `json:"maintenanceCost"`
	DecayRate        float64 `json:"decayRate"`
	DecayRatePercent float64 `json:"decayRatePercent,omitempty"`
}

// DecayPercent returns the daily condition loss in percent.
func (e Economics) DecayPercent() float64 {
	if e.DecayRatePercent > 0 {
		return e.DecayRatePercent
	}
	return e.DecayRate
}

type ResourceDef struct {
	JobsProvided       float64 `json:"jobsProvided"`
	JobsRequired       float64 `json:"jobsRequired"`
	EnergyProvided     float64 `json:"energyProvided"`
	EnergyRequired     float64 `json:"energyRequired"`
	EducationProvided  float64 `json:"educationProvided"`
	EducationRequired  float64 `json:"educationRequired"`
	FoodProvided       float64 `json:"foodProvided"`
	FoodRequired       float64 `json:"foodRequired"`
	HousingProvided    float64 `json:"housingProvided"`
	HousingRequired    float64 `json:"housingRequired"`
	HealthcareProvided float64 `json:"healthcareProvided"`
	HealthcareRequired float64 `json:"healthcareRequired"`
}

func (r ResourceDef) Provided(resource string) float64 {
	switch resource {
	case "jobs":
		return r.JobsProvided
	case "energy":
		return r.EnergyProvided
	case "education":
		return r.EducationProvided
	case "food":
		return r.FoodProvided
	case "housing":
		return r.HousingProvided
	case "healthcare":
		return r.HealthcareProvided
	}
	return 0
}

func (r ResourceDef) Required(resource string) float64 {
	switch resource {
	case "jobs":
		return r.JobsRequired
	case "energy":
		return r.EnergyRequired
	case "education":
		return r.EducationRequired
	case "food":
		return r.FoodRequired
	case "housing":
		return r.HousingRequired
	case "healthcare":
		return r.HealthcareRequired
	}
	return 0
}

// EffectDef is one livability effect. Catalogs exported from the building
// sheet use impact/attenuation; hand-written ones may use effect/range.
type EffectDef struct {
	Impact      float64 `json:"impact"`
	Attenuation float64 `json:"attenuation"`
	Effect      float64 `json:"effect,omitempty"`
	Range       float64 `json:"range,omitempty"`
}

func (e EffectDef) Value() float64 {
	if e.Impact != 0 {
		return e.Impact
	}
	return e.Effect
}

// Reach returns the attenuation range in parcels, or 0 if unset.
func (e EffectDef) Reach() float64 {
	if e.Attenuation > 0 {
		return e.Attenuation
	}
	return e.Range
}

// ComputeCivicScore sums impact/sqrt(attenuation) over the six livability
// categories, rounded to one decimal. Attenuation 0 counts as 1.
func ComputeCivicScore(def BuildingDef) float64 {
	var sum float64
	for _, cat := range Livability {
		e, ok := def.Livability[cat]
		if !ok {
			continue
		}
		att := e.Reach()
		if att == 0 {
			att = 1
		}
		sum += e.Value() / math.Sqrt(att)
	}
	return math.Round(sum*10) / 10
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := LoadBuildings(filepath.Join(configDir, "buildings.json"), &c.Buildings); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// LoadBuildings reads a catalog grouped by category ({"housing":[...]})
// or a flat array of definitions.
func LoadBuildings(path string, out *BuildingCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return parseBuildings(raw, out)
}

func parseBuildings(raw []byte, out *BuildingCatalog) error {
	out.Digest = sha256Hex(raw)

	var defs []BuildingDef
	var grouped map[string][]BuildingDef
	if err := json.Unmarshal(raw, &grouped); err == nil {
		cats := make([]string, 0, len(grouped))
		for cat := range grouped {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		for _, cat := range cats {
			for _, d := range grouped[cat] {
				if d.Category == "" {
					d.Category = cat
				}
				defs = append(defs, d)
			}
		}
	} else if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("buildings.json: %w", err)
	}

	out.ByID = map[string]BuildingDef{}
	catSet := map[string]struct{}{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("buildings.json: empty id")
		}
		if _, dup := out.ByID[d.ID]; dup {
			return fmt.Errorf("buildings.json: duplicate id %s", d.ID)
		}
		if d.Economics.BuildCost < 0 || d.Economics.ConstructionDays < 0 {
			return fmt.Errorf("buildings.json: %s: negative economics", d.ID)
		}
		if d.CivicScore == 0 {
			d.CivicScore = ComputeCivicScore(d)
		}
		out.ByID[d.ID] = d
		catSet[d.Category] = struct{}{}
	}
	out.IDs = make([]string, 0, len(out.ByID))
	for id := range out.ByID {
		out.IDs = append(out.IDs, id)
	}
	sort.Strings(out.IDs)
	out.Categories = make([]string, 0, len(catSet))
	for c := range catSet {
		out.Categories = append(out.Categories, c)
	}
	sort.Strings(out.Categories)
	return nil
}

func (c *BuildingCatalog) Get(id string) (BuildingDef, bool) {
	if c == nil {
		return BuildingDef{}, false
	}
	d, ok := c.ByID[id]
	return d, ok
}
