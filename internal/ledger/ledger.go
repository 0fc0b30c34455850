// Package ledger is the static registry of every pipeline step: which
// pass it belongs to, what tool class may execute it, what it costs, and
// whether it is locked. Orchestrators never hard-code tool choice; they
// resolve it here so substituting a tool is a configuration change.
package ledger

import (
	"math"
	"sort"

	"github.com/sells-group/sitescope/internal/model"
)

// Step is one declared unit of work within a pass. Immutable after
// ledger construction. Locked steps may never be skipped or substituted
// at runtime; attempting to is a configuration error.
type Step struct {
	Pass      model.Pass     `yaml:"pass" json:"pass"`
	StepIndex int            `yaml:"step_index" json:"step_index"`
	Name      string         `yaml:"name" json:"name"`
	Tool      model.ToolType `yaml:"tool" json:"tool"`
	CostUSD   float64        `yaml:"cost_usd" json:"cost_usd"`
	Locked    bool           `yaml:"locked" json:"locked"`
	// GapKind marks the step as gap-fillable: instead of invoking a
	// single fixed tool, the orchestrator hands all steps sharing the
	// kind to the escalation resolver as a tier ladder.
	GapKind model.DataKind `yaml:"gap_kind,omitempty" json:"gap_kind,omitempty"`
}

// Stats summarizes the step composition of one pass.
type Stats struct {
	Total                int     `json:"total"`
	DeterministicCount   int     `json:"deterministic_count"`
	DeterministicPercent int     `json:"deterministic_percent"`
	TotalCostUSD         float64 `json:"total_cost_usd"`
	LockedCount          int     `json:"locked_count"`
}

// Ledger holds the validated step tables for all passes. Read-only
// after New/LoadFile.
type Ledger struct {
	steps map[model.Pass][]Step
}

// New builds a ledger from the built-in doctrine tables.
func New() (*Ledger, error) {
	return build(doctrineSteps())
}

func build(steps []Step) (*Ledger, error) {
	byPass := make(map[model.Pass][]Step)
	for _, s := range steps {
		byPass[s.Pass] = append(byPass[s.Pass], s)
	}
	for pass, ps := range byPass {
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].StepIndex < ps[j].StepIndex })
		if err := validatePass(pass, ps); err != nil {
			return nil, err
		}
		byPass[pass] = ps
	}
	if len(byPass) == 0 {
		return nil, model.NewConfigError("ledger: no steps registered")
	}
	return &Ledger{steps: byPass}, nil
}

func validatePass(pass model.Pass, steps []Step) error {
	if pass.Order() < 0 {
		return model.NewConfigError("ledger: unknown pass %q", pass)
	}
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.Name == "" {
			return model.NewConfigError("ledger: %s step %d has no name", pass, i)
		}
		if seen[s.Name] {
			return model.NewConfigError("ledger: %s has duplicate step %q", pass, s.Name)
		}
		seen[s.Name] = true
		if s.StepIndex != i {
			return model.NewConfigError("ledger: %s step %q has index %d, want %d", pass, s.Name, s.StepIndex, i)
		}
		if !s.Tool.Valid() {
			return model.NewConfigError("ledger: %s step %q has unknown tool %q", pass, s.Name, s.Tool)
		}
		if s.CostUSD < 0 {
			return model.NewConfigError("ledger: %s step %q has negative cost", pass, s.Name)
		}
		if s.Locked && s.GapKind != "" {
			// A locked step is a fixed obligation; it cannot double as
			// a skippable escalation tier.
			return model.NewConfigError("ledger: %s step %q is locked and gap-fillable", pass, s.Name)
		}
	}
	return nil
}

// StepsFor returns the ordered steps of a pass. Fails with ConfigError
// if the pass has no registered steps.
func (l *Ledger) StepsFor(pass model.Pass) ([]Step, error) {
	steps, ok := l.steps[pass]
	if !ok || len(steps) == 0 {
		return nil, model.NewConfigError("ledger: no steps registered for pass %q", pass)
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	return out, nil
}

// StatsFor summarizes a pass's step composition.
func (l *Ledger) StatsFor(pass model.Pass) (Stats, error) {
	steps, err := l.StepsFor(pass)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	st.Total = len(steps)
	for _, s := range steps {
		if s.Tool == model.ToolDeterministic {
			st.DeterministicCount++
		}
		if s.Locked {
			st.LockedCount++
		}
		st.TotalCostUSD += s.CostUSD
	}
	st.DeterministicPercent = int(math.Round(100 * float64(st.DeterministicCount) / float64(st.Total)))
	return st, nil
}

// TiersFor returns the gap-fillable steps of a pass for one data kind,
// in declared ladder order. This is the tier ladder the escalation
// resolver walks; the doctrine's step indices are the escalation order.
func (l *Ledger) TiersFor(pass model.Pass, kind model.DataKind) ([]Step, error) {
	steps, err := l.StepsFor(pass)
	if err != nil {
		return nil, err
	}
	var tiers []Step
	for _, s := range steps {
		if s.GapKind == kind {
			tiers = append(tiers, s)
		}
	}
	return tiers, nil
}

// Passes lists the passes that have registered steps, in pipeline order.
func (l *Ledger) Passes() []model.Pass {
	var out []model.Pass
	for _, p := range model.AllPasses() {
		if _, ok := l.steps[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
