// Package model defines the shared domain types carried through the
// screening pipeline: the opportunity record, per-pass result sections,
// gate verdicts, tier attempts, and the error taxonomy.
package model

// Pass identifies one ordered phase of the screening pipeline.
type Pass string

const (
	PassIntake       Pass = "pass0"   // zip hydration, geocoding, jurisdiction resolution
	PassMarket       Pass = "pass1"   // demand, supply, hotspot gate
	PassRateEvidence Pass = "pass1_5" // tiered rate-evidence gap fill
	PassJurisdiction Pass = "pass2"   // capability recon, zoning envelope, prohibitions
	PassFinancial    Pass = "pass3"   // build cost, phasing, unit mix, IRR
)

// Order returns the pipeline position of a pass, or -1 for unknown passes.
func (p Pass) Order() int {
	switch p {
	case PassIntake:
		return 0
	case PassMarket:
		return 1
	case PassRateEvidence:
		return 2
	case PassJurisdiction:
		return 3
	case PassFinancial:
		return 4
	default:
		return -1
	}
}

// Next returns the pass that follows p, or "" after the final pass.
func (p Pass) Next() Pass {
	switch p {
	case PassIntake:
		return PassMarket
	case PassMarket:
		return PassRateEvidence
	case PassRateEvidence:
		return PassJurisdiction
	case PassJurisdiction:
		return PassFinancial
	default:
		return ""
	}
}

// AllPasses lists the passes in execution order.
func AllPasses() []Pass {
	return []Pass{PassIntake, PassMarket, PassRateEvidence, PassJurisdiction, PassFinancial}
}

// ToolType classifies which kind of tool may execute a ledger step.
type ToolType string

const (
	ToolDeterministic    ToolType = "deterministic"
	ToolLLMTail          ToolType = "llm_tail"
	ToolLLMTier          ToolType = "llm_tier"
	ToolLLMTailExpensive ToolType = "llm_tail_expensive"
	ToolExternalAgent    ToolType = "external_agent"
)

// Valid reports whether t is a known tool classification.
func (t ToolType) Valid() bool {
	switch t {
	case ToolDeterministic, ToolLLMTail, ToolLLMTier, ToolLLMTailExpensive, ToolExternalAgent:
		return true
	default:
		return false
	}
}
