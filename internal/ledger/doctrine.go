package ledger

import (
	"github.com/sells-group/sitescope/internal/cost"
	"github.com/sells-group/sitescope/internal/model"
)

// doctrineSteps is the built-in step table. Paid steps are priced from
// the cost tables; zero-cost steps are local computation or free APIs.
func doctrineSteps() []Step {
	calc := cost.NewCalculator(cost.DefaultRates())
	return []Step{
		// Pass 0 — intake. Everything here is load-bearing: a site we
		// cannot place on the map cannot be screened at all.
		{Pass: model.PassIntake, StepIndex: 0, Name: "zip_hydration", Tool: model.ToolDeterministic, Locked: true},
		{Pass: model.PassIntake, StepIndex: 1, Name: "geocode", Tool: model.ToolDeterministic, Locked: true},
		{Pass: model.PassIntake, StepIndex: 2, Name: "jurisdiction_resolve", Tool: model.ToolDeterministic, Locked: true},

		// Pass 1 — market recon.
		{Pass: model.PassMarket, StepIndex: 0, Name: "census_pull", Tool: model.ToolDeterministic, Locked: true},
		{Pass: model.PassMarket, StepIndex: 1, Name: "demand_score", Tool: model.ToolDeterministic},
		{Pass: model.PassMarket, StepIndex: 2, Name: "competitor_enumeration", Tool: model.ToolDeterministic, GapKind: model.DataKindCompetitorSet},
		{Pass: model.PassMarket, StepIndex: 3, Name: "saturation_score", Tool: model.ToolDeterministic},
		{Pass: model.PassMarket, StepIndex: 4, Name: "growth_estimate", Tool: model.ToolLLMTail, CostUSD: calc.Tool("growth_estimate"), GapKind: model.DataKindGrowthRate},
		{Pass: model.PassMarket, StepIndex: 5, Name: "hotspot_score", Tool: model.ToolDeterministic},

		// Pass 1.5 — rate evidence tier ladder plus the composing step.
		{Pass: model.PassRateEvidence, StepIndex: 0, Name: "osm_rate_survey", Tool: model.ToolDeterministic, GapKind: model.DataKindStreetRate},
		{Pass: model.PassRateEvidence, StepIndex: 1, Name: "ai_rate_search", Tool: model.ToolLLMTail, CostUSD: calc.Tool("ai_rate_search"), GapKind: model.DataKindStreetRate},
		{Pass: model.PassRateEvidence, StepIndex: 2, Name: "competitor_scrape", Tool: model.ToolDeterministic, GapKind: model.DataKindStreetRate},
		{Pass: model.PassRateEvidence, StepIndex: 3, Name: "ai_rate_call", Tool: model.ToolLLMTailExpensive, CostUSD: calc.Tool("ai_rate_call"), GapKind: model.DataKindStreetRate},
		{Pass: model.PassRateEvidence, StepIndex: 4, Name: "rate_compose", Tool: model.ToolDeterministic, Locked: true},

		// Pass 2 — jurisdiction screen. Recon is a paid agent action;
		// its outcome is persisted before the pass proceeds.
		{Pass: model.PassJurisdiction, StepIndex: 0, Name: "capability_recon", Tool: model.ToolExternalAgent, CostUSD: calc.AgentRecon(), Locked: true},
		{Pass: model.PassJurisdiction, StepIndex: 1, Name: "zoning_lookup", Tool: model.ToolDeterministic, Locked: true},
		{Pass: model.PassJurisdiction, StepIndex: 2, Name: "prohibition_screen", Tool: model.ToolDeterministic, Locked: true},
		{Pass: model.PassJurisdiction, StepIndex: 3, Name: "envelope_assembly", Tool: model.ToolDeterministic},
		{Pass: model.PassJurisdiction, StepIndex: 4, Name: "difficulty_score", Tool: model.ToolDeterministic},

		// Pass 3 — financial model. Pure computation, no external spend.
		{Pass: model.PassFinancial, StepIndex: 0, Name: "build_cost", Tool: model.ToolDeterministic, Locked: true},
		{Pass: model.PassFinancial, StepIndex: 1, Name: "phase_plan", Tool: model.ToolDeterministic},
		{Pass: model.PassFinancial, StepIndex: 2, Name: "unit_mix", Tool: model.ToolDeterministic},
		{Pass: model.PassFinancial, StepIndex: 3, Name: "irr_model", Tool: model.ToolDeterministic, Locked: true},
		{Pass: model.PassFinancial, StepIndex: 4, Name: "viability_score", Tool: model.ToolDeterministic},
	}
}
