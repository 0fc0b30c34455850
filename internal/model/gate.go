package model

// GateVerdict is the promote/hold/walk decision that ends a pass.
type GateVerdict struct {
	Pass       Pass     `json:"pass"`
	Passed     bool     `json:"passed"`
	PromotedTo Pass     `json:"promoted_to,omitempty"`
	Outcome    Decision `json:"outcome"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Terminal reports whether this verdict halts the pipeline.
func (g GateVerdict) Terminal() bool {
	return g.Outcome.Terminal()
}
