package model

// DataKind names a gap-fillable datum the escalation resolver can chase.
type DataKind string

const (
	DataKindStreetRate     DataKind = "street_rate"
	DataKindCompetitorSet  DataKind = "competitor_set"
	DataKindGrowthRate     DataKind = "growth_rate"
)

// GapRequest asks the escalation resolver to fill one datum for one
// jurisdiction. Transient: produced by gap detection, discarded after
// resolution.
type GapRequest struct {
	RunID          string   `json:"run_id"`
	Zip            string   `json:"zip"`
	JurisdictionID string   `json:"jurisdiction_id"`
	Kind           DataKind `json:"kind"`
	MinConfidence  float64  `json:"min_confidence"`
}

// TierOutcome classifies how a single tier attempt ended. "No data
// found" is insufficient, not failed; failed is reserved for provider
// errors, timeouts and rate limits.
type TierOutcome string

const (
	TierOutcomeSuccess      TierOutcome = "success"
	TierOutcomeInsufficient TierOutcome = "insufficient"
	TierOutcomeFailed       TierOutcome = "failed"
)

// Evidence is the datum a tier produced, when it produced one.
type Evidence struct {
	Kind       DataKind `json:"kind"`
	Value      float64  `json:"value"`
	Unit       string   `json:"unit,omitempty"`
	SampleSize int      `json:"sample_size,omitempty"`
	SourceURL  string   `json:"source_url,omitempty"`
}

// TierAttempt is one executed escalation tier. The full ordered sequence
// is retained per gap for audit even after a later tier succeeds; a tier
// that was never invoked never appears here and never contributes cost.
type TierAttempt struct {
	Tier       int         `json:"tier"`
	Tool       string      `json:"tool"`
	ToolType   ToolType    `json:"tool_type"`
	CostUSD    float64     `json:"cost_usd"`
	Outcome    TierOutcome `json:"outcome"`
	Confidence float64     `json:"confidence"`
	Evidence   *Evidence   `json:"evidence,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMS int64       `json:"duration_ms,omitempty"`
}
