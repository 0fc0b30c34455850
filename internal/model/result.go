package model

import "time"

// StepStatus is the outcome of one executed ledger step.
type StepStatus string

const (
	StepStatusComplete StepStatus = "complete"
	StepStatusFailed   StepStatus = "failed"
	StepStatusSkipped  StepStatus = "skipped"
)

// StepOutcome records how one ledger step went. Orchestrators emit the
// full slice of outcomes in the pass event and persist external_agent
// outcomes before proceeding.
type StepOutcome struct {
	Pass       Pass           `json:"pass"`
	StepIndex  int            `json:"step_index"`
	Name       string         `json:"name"`
	Tool       ToolType       `json:"tool"`
	Status     StepStatus     `json:"status"`
	DurationMS int64          `json:"duration_ms"`
	CostUSD    float64        `json:"cost_usd,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ZipHydrationResult is the Pass-0 section: where the site actually is.
type ZipHydrationResult struct {
	Zip               string  `json:"zip"`
	City              string  `json:"city,omitempty"`
	County            string  `json:"county"`
	CountyFIPS        string  `json:"county_fips"`
	State             string  `json:"state"`
	JurisdictionID    string  `json:"jurisdiction_id"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	GeocodeConfidence float64 `json:"geocode_confidence"`
	GeocodeSource     string  `json:"geocode_source"`
}

// DemandResult is the Pass-1 demand section. Raw metrics plus the
// composed demand and hotspot scores, both in [0,100].
type DemandResult struct {
	Population     int     `json:"population"`
	DensityPerSqMi float64 `json:"density_per_sq_mi"`
	MedianIncome   float64 `json:"median_income"`
	HousingUnits   int     `json:"housing_units"`
	GrowthRatePct  float64 `json:"growth_rate_pct"`
	DemandScore    float64 `json:"demand_score"`
	HotspotScore   float64 `json:"hotspot_score"`
}

// SupplyResult is the Pass-1 supply/saturation section.
type SupplyResult struct {
	CompetitorCount    int     `json:"competitor_count"`
	CompetitorSqft     float64 `json:"competitor_sqft"`
	SqftPerCapita      float64 `json:"sqft_per_capita"`
	SaturationScore    float64 `json:"saturation_score"`
	NearestCompetitorMi float64 `json:"nearest_competitor_mi,omitempty"`
}

// RateEvidenceResult is the Pass-1.5 section: the resolved street rate
// plus the full audit trail of tier attempts that produced it.
type RateEvidenceResult struct {
	RatePerSqft float64       `json:"rate_per_sqft"`
	Confidence  float64       `json:"confidence"`
	Source      string        `json:"source"`
	Tier        int           `json:"tier"`
	Resolved    bool          `json:"resolved"`
	Attempts    []TierAttempt `json:"attempts"`
	SpendUSD    float64       `json:"spend_usd"`
}

// JurisdictionResult is the Pass-2 section: zoning envelope and
// constraint posture for the site's jurisdiction.
type JurisdictionResult struct {
	JurisdictionID   string  `json:"jurisdiction_id"`
	ProfileVersion   int     `json:"profile_version"`
	ZoningCode       string  `json:"zoning_code,omitempty"`
	StoragePosture   string  `json:"storage_posture"` // permitted | conditional | prohibited
	FatalProhibition bool    `json:"fatal_prohibition"`
	SetbackFt        float64 `json:"setback_ft,omitempty"`
	MaxHeightFt      float64 `json:"max_height_ft,omitempty"`
	MaxCoveragePct   float64 `json:"max_coverage_pct,omitempty"`
	EnvelopeComplete bool    `json:"envelope_complete"`
	DifficultyScore  float64 `json:"difficulty_score"`
}

// FinancialResult is the Pass-3 section: the deterministic financial
// model and its viability score.
type FinancialResult struct {
	BuildCost      BuildCost      `json:"build_cost"`
	Phases         []PhasePlan    `json:"phases"`
	UnitMix        []UnitMixLine  `json:"unit_mix"`
	Projection     Projection     `json:"projection"`
	ViabilityScore float64        `json:"viability_score"`
}

// BuildCost is the fixed-multiplier construction cost model.
type BuildCost struct {
	NetRentableSqft float64 `json:"net_rentable_sqft"`
	CostPerSqft     float64 `json:"cost_per_sqft"`
	HardCostUSD     float64 `json:"hard_cost_usd"`
	SoftCostUSD     float64 `json:"soft_cost_usd"`
	ContingencyUSD  float64 `json:"contingency_usd"`
	TotalUSD        float64 `json:"total_usd"`
}

// PhasePlan is one construction phase.
type PhasePlan struct {
	Phase      int     `json:"phase"`
	Sqft       float64 `json:"sqft"`
	StartMonth int     `json:"start_month"`
	CostUSD    float64 `json:"cost_usd"`
}

// UnitMixLine is one unit size in the optimized mix.
type UnitMixLine struct {
	Size        string  `json:"size"` // e.g. "10x10"
	Sqft        float64 `json:"sqft"`
	Count       int     `json:"count"`
	RatePerSqft float64 `json:"rate_per_sqft"`
}

// Projection is the single deterministic cashflow projection.
type Projection struct {
	HoldYears      int       `json:"hold_years"`
	StabilizedNOI  float64   `json:"stabilized_noi"`
	AnnualDebtSvc  float64   `json:"annual_debt_service"`
	Cashflows      []float64 `json:"cashflows"`
	IRR            float64   `json:"irr"`
	EquityMultiple float64   `json:"equity_multiple"`
	CashOnCash     float64   `json:"cash_on_cash"`
}

// Event is one structured emission to the event sink.
type Event struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Pass      Pass           `json:"pass,omitempty"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
