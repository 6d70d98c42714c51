package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds every economic and timing constant a room reads.
// Values missing from tuning.yaml fall back to Defaults.
type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	DayTicks           int `yaml:"day_ticks"`
	MonthDays          int `yaml:"month_days"`
	GridSize           int `yaml:"grid_size"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	SeenTxCapacity     int `yaml:"seen_tx_capacity"`
	HistorySize        int `yaml:"history_size"`

	Land        Land           `yaml:"land"`
	Ledger      Ledger         `yaml:"ledger"`
	ActionCosts map[string]int `yaml:"action_costs"`
	Buildings   Buildings      `yaml:"buildings"`
	Economy     Economy        `yaml:"economy"`
	Population  Population     `yaml:"population"`
	Market      Market         `yaml:"market"`
	Auction     Auction        `yaml:"auction"`
	Governance  Governance     `yaml:"governance"`
	Victory     Victory        `yaml:"victory"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type Land struct {
	CenterPrice int64 `yaml:"center_price"`
	EdgePrice   int64 `yaml:"edge_price"`
	PriceBump   int64 `yaml:"price_bump"`
}

type Ledger struct {
	StartingBalance     int64 `yaml:"starting_balance"`
	BaseMonthlyActions  int   `yaml:"base_monthly_actions"`
	ActionDecayPerMonth int   `yaml:"action_decay_per_month"`
	MinMonthlyActions   int   `yaml:"min_monthly_actions"`
	PreGameVotingPoints int   `yaml:"pre_game_voting_points"`
	InGameVotingPoints  int   `yaml:"in_game_voting_points"`
	MonthlyVotingPoints int   `yaml:"monthly_voting_points"`
	TxLogSize           int   `yaml:"tx_log_size"`
}

type Buildings struct {
	DemolitionFeeRate float64 `yaml:"demolition_fee_rate"`
	RepairCostRate    float64 `yaml:"repair_cost_rate"`
	MinCondition      float64 `yaml:"min_condition"`
}

// CohortDemand is the per-resident daily demand of one resource, by age cohort.
type CohortDemand struct {
	Children float64 `yaml:"children"`
	Adults   float64 `yaml:"adults"`
	Seniors  float64 `yaml:"seniors"`
}

type Economy struct {
	CacheTTLTicks      int                     `yaml:"cache_ttl_ticks"`
	CarensRadius       int                     `yaml:"carens_radius"`
	DefaultEffectRange float64                 `yaml:"default_effect_range"`
	MinOperatingLevel  float64                 `yaml:"min_operating_level"`
	JobsPerOccupant    float64                 `yaml:"jobs_per_occupant"`
	FoodPerOccupant    float64                 `yaml:"food_per_occupant"`
	DemandCoefficients map[string]CohortDemand `yaml:"demand_coefficients"`
	UBICategory        string                  `yaml:"ubi_category"`
}

type Population struct {
	OccupantsPerHousingUnit int     `yaml:"occupants_per_housing_unit"`
	InitialCohortShare      float64 `yaml:"initial_cohort_share"`
	InitialCohortCap        int     `yaml:"initial_cohort_cap"`
	SmallTownThreshold      int     `yaml:"small_town_threshold"`
	SmallTownMinAttract     float64 `yaml:"small_town_min_attractiveness"`
	SmallTownGrowthRate     float64 `yaml:"small_town_growth_rate"`
	ImmigrationThreshold    float64 `yaml:"immigration_threshold"`
	ImmigrationSensitivity  float64 `yaml:"immigration_sensitivity"`
	MaxDailyImmigration     float64 `yaml:"max_daily_immigration"`
	PoorThreshold           float64 `yaml:"poor_threshold"`
	WarningDays             int     `yaml:"warning_days"`
	SevereDays              int     `yaml:"severe_days"`
	EmigrationDays          int     `yaml:"emigration_days"`
	CrisisDays              int     `yaml:"crisis_days"`
	EmigrationBaseRate      float64 `yaml:"emigration_base_rate"`
	EmigrationSeverityRate  float64 `yaml:"emigration_severity_rate"`
	ChildShare              float64 `yaml:"child_share"`
	AdultShare              float64 `yaml:"adult_share"`
	SeniorShare             float64 `yaml:"senior_share"`
	ChildToAdultRate        float64 `yaml:"child_to_adult_rate"`
	AdultToSeniorRate       float64 `yaml:"adult_to_senior_rate"`
	SeniorMortalityRate     float64 `yaml:"senior_mortality_rate"`
}

type Market struct {
	MinBidIncrement       float64 `yaml:"min_bid_increment"`
	SnipeWindowSeconds    int     `yaml:"snipe_window_seconds"`
	SnipeExtensionSeconds int     `yaml:"snipe_extension_seconds"`
	MaxPremium            float64 `yaml:"max_premium"`
	FeeRate               float64 `yaml:"fee_rate"`
	MaxQuantity           int     `yaml:"max_quantity"`
}

type Auction struct {
	MaxConcurrent         int `yaml:"max_concurrent"`
	DurationSeconds       int `yaml:"duration_seconds"`
	SnipeWindowSeconds    int `yaml:"snipe_window_seconds"`
	SnipeExtensionSeconds int `yaml:"snipe_extension_seconds"`
	ResponseSeconds       int `yaml:"response_seconds"`
	ProtectionDays        int `yaml:"protection_days"`
}

type Governance struct {
	Categories      []string `yaml:"categories"`
	InitialTreasury int64    `yaml:"initial_treasury"`
	BaseLVTRate     float64  `yaml:"base_lvt_rate"`
	LVTStep         float64  `yaml:"lvt_step"`
	MinLVTRate      float64  `yaml:"min_lvt_rate"`
	MaxLVTRate      float64  `yaml:"max_lvt_rate"`
}

type Victory struct {
	VictoryDay         int     `yaml:"victory_day"`
	WealthScoreDivisor float64 `yaml:"wealth_score_divisor"`
}

type RateLimits struct {
	TxPerSecond float64 `yaml:"tx_per_second"`
	TxBurst     int     `yaml:"tx_burst"`
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	return t, nil
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         5,
		DayTicks:           300,
		MonthDays:          30,
		GridSize:           12,
		SnapshotEveryTicks: 3000,
		SeenTxCapacity:     4096,
		HistorySize:        1000,
		Land: Land{
			CenterPrice: 200,
			EdgePrice:   100,
			PriceBump:   10,
		},
		Ledger: Ledger{
			StartingBalance:     10000,
			BaseMonthlyActions:  20,
			ActionDecayPerMonth: 2,
			MinMonthlyActions:   10,
			PreGameVotingPoints: 4,
			InGameVotingPoints:  2,
			MonthlyVotingPoints: 2,
			TxLogSize:           200,
		},
		ActionCosts: map[string]int{
			"BUILD_START":     1,
			"REPAIR":          1,
			"DESTROY":         1,
			"PURCHASE_PARCEL": 1,
			"AUCTION_START":   1,
		},
		Buildings: Buildings{
			DemolitionFeeRate: 0.1,
			RepairCostRate:    0.5,
			MinCondition:      0.1,
		},
		Economy: Economy{
			CacheTTLTicks:      25,
			CarensRadius:       5,
			DefaultEffectRange: 3,
			MinOperatingLevel:  0.05,
			JobsPerOccupant:    0.5,
			FoodPerOccupant:    0.3,
			DemandCoefficients: map[string]CohortDemand{
				"jobs":       {Children: 0, Adults: 0.8, Seniors: 0.1},
				"food":       {Children: 0.3, Adults: 0.4, Seniors: 0.3},
				"education":  {Children: 0.6, Adults: 0.1, Seniors: 0},
				"healthcare": {Children: 0.2, Adults: 0.2, Seniors: 0.6},
				"housing":    {Children: 0.3, Adults: 0.5, Seniors: 0.5},
			},
			UBICategory: "ubi",
		},
		Population: Population{
			OccupantsPerHousingUnit: 2,
			InitialCohortShare:      0.3,
			InitialCohortCap:        50,
			SmallTownThreshold:      100,
			SmallTownMinAttract:     0.8,
			SmallTownGrowthRate:     0.15,
			ImmigrationThreshold:    1.05,
			ImmigrationSensitivity:  0.5,
			MaxDailyImmigration:     0.10,
			PoorThreshold:           0.95,
			WarningDays:             3,
			SevereDays:              5,
			EmigrationDays:          7,
			CrisisDays:              10,
			EmigrationBaseRate:      0.02,
			EmigrationSeverityRate:  0.2,
			ChildShare:              0.25,
			AdultShare:              0.60,
			SeniorShare:             0.15,
			ChildToAdultRate:        1.0 / 540,
			AdultToSeniorRate:       1.0 / 1350,
			SeniorMortalityRate:     1.0 / 900,
		},
		Market: Market{
			MinBidIncrement:       0.1,
			SnipeWindowSeconds:    10,
			SnipeExtensionSeconds: 30,
			MaxPremium:            5.0,
			FeeRate:               0.5,
			MaxQuantity:           100,
		},
		Auction: Auction{
			MaxConcurrent:         3,
			DurationSeconds:       120,
			SnipeWindowSeconds:    10,
			SnipeExtensionSeconds: 30,
			ResponseSeconds:       60,
			ProtectionDays:        30,
		},
		Governance: Governance{
			Categories:      []string{"education", "healthcare", "infrastructure", "housing", "culture", "ubi"},
			InitialTreasury: 0,
			BaseLVTRate:     0.01,
			LVTStep:         0.002,
			MinLVTRate:      0,
			MaxLVTRate:      0.1,
		},
		Victory: Victory{
			VictoryDay:         360,
			WealthScoreDivisor: 1000,
		},
		RateLimits: RateLimits{
			TxPerSecond: 10,
			TxBurst:     20,
		},
	}
}

// Normalize replaces non-positive values with defaults so a partial
// tuning.yaml is always usable.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	posInt(&t.TickRateHz, d.TickRateHz)
	posInt(&t.DayTicks, d.DayTicks)
	posInt(&t.MonthDays, d.MonthDays)
	posInt(&t.GridSize, d.GridSize)
	posInt(&t.SnapshotEveryTicks, d.SnapshotEveryTicks)
	posInt(&t.SeenTxCapacity, d.SeenTxCapacity)
	posInt(&t.HistorySize, d.HistorySize)

	posInt64(&t.Land.CenterPrice, d.Land.CenterPrice)
	posInt64(&t.Land.EdgePrice, d.Land.EdgePrice)
	if t.Land.PriceBump < 0 {
		t.Land.PriceBump = 0
	}

	posInt64(&t.Ledger.StartingBalance, d.Ledger.StartingBalance)
	posInt(&t.Ledger.BaseMonthlyActions, d.Ledger.BaseMonthlyActions)
	if t.Ledger.ActionDecayPerMonth < 0 {
		t.Ledger.ActionDecayPerMonth = 0
	}
	posInt(&t.Ledger.MinMonthlyActions, d.Ledger.MinMonthlyActions)
	posInt(&t.Ledger.PreGameVotingPoints, d.Ledger.PreGameVotingPoints)
	posInt(&t.Ledger.InGameVotingPoints, d.Ledger.InGameVotingPoints)
	posInt(&t.Ledger.MonthlyVotingPoints, d.Ledger.MonthlyVotingPoints)
	posInt(&t.Ledger.TxLogSize, d.Ledger.TxLogSize)

	if t.ActionCosts == nil {
		t.ActionCosts = d.ActionCosts
	}

	posFloat(&t.Buildings.DemolitionFeeRate, d.Buildings.DemolitionFeeRate)
	posFloat(&t.Buildings.RepairCostRate, d.Buildings.RepairCostRate)
	posFloat(&t.Buildings.MinCondition, d.Buildings.MinCondition)

	posInt(&t.Economy.CacheTTLTicks, d.Economy.CacheTTLTicks)
	posInt(&t.Economy.CarensRadius, d.Economy.CarensRadius)
	posFloat(&t.Economy.DefaultEffectRange, d.Economy.DefaultEffectRange)
	posFloat(&t.Economy.MinOperatingLevel, d.Economy.MinOperatingLevel)
	posFloat(&t.Economy.JobsPerOccupant, d.Economy.JobsPerOccupant)
	posFloat(&t.Economy.FoodPerOccupant, d.Economy.FoodPerOccupant)
	if len(t.Economy.DemandCoefficients) == 0 {
		t.Economy.DemandCoefficients = d.Economy.DemandCoefficients
	}
	if t.Economy.UBICategory == "" {
		t.Economy.UBICategory = d.Economy.UBICategory
	}

	p, dp := &t.Population, d.Population
	posInt(&p.OccupantsPerHousingUnit, dp.OccupantsPerHousingUnit)
	posFloat(&p.InitialCohortShare, dp.InitialCohortShare)
	posInt(&p.InitialCohortCap, dp.InitialCohortCap)
	posInt(&p.SmallTownThreshold, dp.SmallTownThreshold)
	posFloat(&p.SmallTownMinAttract, dp.SmallTownMinAttract)
	posFloat(&p.SmallTownGrowthRate, dp.SmallTownGrowthRate)
	posFloat(&p.ImmigrationThreshold, dp.ImmigrationThreshold)
	posFloat(&p.ImmigrationSensitivity, dp.ImmigrationSensitivity)
	posFloat(&p.MaxDailyImmigration, dp.MaxDailyImmigration)
	posFloat(&p.PoorThreshold, dp.PoorThreshold)
	posInt(&p.WarningDays, dp.WarningDays)
	posInt(&p.SevereDays, dp.SevereDays)
	posInt(&p.EmigrationDays, dp.EmigrationDays)
	posInt(&p.CrisisDays, dp.CrisisDays)
	posFloat(&p.EmigrationBaseRate, dp.EmigrationBaseRate)
	posFloat(&p.EmigrationSeverityRate, dp.EmigrationSeverityRate)
	if p.ChildShare <= 0 || p.AdultShare <= 0 || p.SeniorShare <= 0 {
		p.ChildShare, p.AdultShare, p.SeniorShare = dp.ChildShare, dp.AdultShare, dp.SeniorShare
	}
	posFloat(&p.ChildToAdultRate, dp.ChildToAdultRate)
	posFloat(&p.AdultToSeniorRate, dp.AdultToSeniorRate)
	posFloat(&p.SeniorMortalityRate, dp.SeniorMortalityRate)

	posFloat(&t.Market.MinBidIncrement, d.Market.MinBidIncrement)
	posInt(&t.Market.SnipeWindowSeconds, d.Market.SnipeWindowSeconds)
	posInt(&t.Market.SnipeExtensionSeconds, d.Market.SnipeExtensionSeconds)
	posFloat(&t.Market.MaxPremium, d.Market.MaxPremium)
	posFloat(&t.Market.FeeRate, d.Market.FeeRate)
	posInt(&t.Market.MaxQuantity, d.Market.MaxQuantity)

	posInt(&t.Auction.MaxConcurrent, d.Auction.MaxConcurrent)
	posInt(&t.Auction.DurationSeconds, d.Auction.DurationSeconds)
	posInt(&t.Auction.SnipeWindowSeconds, d.Auction.SnipeWindowSeconds)
	posInt(&t.Auction.SnipeExtensionSeconds, d.Auction.SnipeExtensionSeconds)
	posInt(&t.Auction.ResponseSeconds, d.Auction.ResponseSeconds)
	posInt(&t.Auction.ProtectionDays, d.Auction.ProtectionDays)

	if len(t.Governance.Categories) == 0 {
		t.Governance.Categories = d.Governance.Categories
	}
	if t.Governance.InitialTreasury < 0 {
		t.Governance.InitialTreasury = 0
	}
	posFloat(&t.Governance.BaseLVTRate, d.Governance.BaseLVTRate)
	posFloat(&t.Governance.LVTStep, d.Governance.LVTStep)
	if t.Governance.MinLVTRate < 0 {
		t.Governance.MinLVTRate = 0
	}
	posFloat(&t.Governance.MaxLVTRate, d.Governance.MaxLVTRate)
	if t.Governance.MaxLVTRate < t.Governance.MinLVTRate {
		t.Governance.MaxLVTRate = t.Governance.MinLVTRate
	}

	if t.Victory.VictoryDay < 0 {
		t.Victory.VictoryDay = 0
	}
	posFloat(&t.Victory.WealthScoreDivisor, d.Victory.WealthScoreDivisor)

	posFloat(&t.RateLimits.TxPerSecond, d.RateLimits.TxPerSecond)
	posInt(&t.RateLimits.TxBurst, d.RateLimits.TxBurst)
}

// MonthTicks is the length of one game month in ticks.
func (t Tuning) MonthTicks() uint64 {
	return uint64(t.DayTicks) * uint64(t.MonthDays)
}

// SecondsToTicks converts a real-time duration in seconds to ticks.
func (t Tuning) SecondsToTicks(sec int) uint64 {
	if sec <= 0 {
		return 0
	}
	return uint64(sec) * uint64(t.TickRateHz)
}

func posInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func posInt64(v *int64, def int64) {
	if *v <= 0 {
		*v = def
	}
}

func posFloat(v *float64, def float64) {
	if *v <= 0 {
		*v = def
	}
}
