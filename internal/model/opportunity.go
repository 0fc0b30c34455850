package model

import "time"

// RunStatus tracks the lifecycle of a single pipeline run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusIntake    RunStatus = "intake"
	RunStatusMarket    RunStatus = "market_recon"
	RunStatusRateFill  RunStatus = "rate_gap_fill"
	RunStatusScreening RunStatus = "jurisdiction_screen"
	RunStatusFinancial RunStatus = "financial_model"
	RunStatusComplete  RunStatus = "complete"
	RunStatusWalked    RunStatus = "walked"
	RunStatusHeld      RunStatus = "held"
	RunStatusAborted   RunStatus = "aborted"
	RunStatusFailed    RunStatus = "failed"
)

// Decision is the verdict a run ends with. WALK and HOLD are mid-pipeline
// outcomes; GO, NO_GO and MAYBE come from the final scoring chain.
type Decision string

const (
	DecisionGo      Decision = "GO"
	DecisionNoGo    Decision = "NO_GO"
	DecisionMaybe   Decision = "MAYBE"
	DecisionWalk    Decision = "WALK"
	DecisionHold    Decision = "HOLD"
	DecisionPending Decision = "PENDING"
)

// Terminal reports whether a decision ends the pipeline.
func (d Decision) Terminal() bool {
	switch d {
	case DecisionGo, DecisionNoGo, DecisionWalk:
		return true
	default:
		return false
	}
}

// Site is a candidate parcel submitted for screening.
type Site struct {
	Address   string  `json:"address,omitempty"`
	Zip       string  `json:"zip"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	AcreageGross float64 `json:"acreage_gross,omitempty"`
	// ParcelWKT optionally carries the parcel boundary as WKT; used by
	// the parcel-viability scorer when present.
	ParcelWKT string `json:"parcel_wkt,omitempty"`
	AskingPriceUSD float64 `json:"asking_price_usd,omitempty"`
}

// OpportunityRecord is the mutable aggregate carried through one run.
// The driver owns it exclusively; each pass orchestrator appends its
// section and returns control. Sections are nil until their pass runs.
type OpportunityRecord struct {
	RunID    string    `json:"run_id"`
	Site     Site      `json:"site"`
	Status   RunStatus `json:"status"`
	Decision Decision  `json:"decision"`

	ZipHydration *ZipHydrationResult `json:"zip_hydration,omitempty"`
	Demand       *DemandResult       `json:"demand,omitempty"`
	Supply       *SupplyResult       `json:"supply,omitempty"`
	RateEvidence *RateEvidenceResult `json:"rate_evidence,omitempty"`
	Jurisdiction *JurisdictionResult `json:"jurisdiction,omitempty"`
	Financial    *FinancialResult    `json:"financial,omitempty"`

	Gates      []GateVerdict `json:"gates,omitempty"`
	FinalScore float64       `json:"final_score,omitempty"`
	SpendUSD   float64       `json:"spend_usd"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GateFor returns the recorded verdict for a pass, or nil if the pass
// has not gated yet.
func (o *OpportunityRecord) GateFor(pass Pass) *GateVerdict {
	for i := range o.Gates {
		if o.Gates[i].Pass == pass {
			return &o.Gates[i]
		}
	}
	return nil
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Zip    string    `json:"zip,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}
