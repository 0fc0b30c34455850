package pipeline

// Storage postures a zoning envelope can carry.
const (
	PosturePermitted   = "permitted"
	PostureConditional = "conditional"
	PostureProhibited  = "prohibited"
)

// ZoningEnvelope is what a jurisdiction allows on a storage parcel:
// posture, dimensional limits, and whether a prohibition is fatal or
// merely a variance fight.
type ZoningEnvelope struct {
	Code           string  `json:"code"`
	Posture        string  `json:"posture"`
	Fatal          bool    `json:"fatal,omitempty"`
	SetbackFt      float64 `json:"setback_ft,omitempty"`
	MaxHeightFt    float64 `json:"max_height_ft,omitempty"`
	MaxCoveragePct float64 `json:"max_coverage_pct,omitempty"`
}

// StaticZoning serves zoning envelopes from an in-memory table. The
// embedded table covers the southeast screening footprint; production
// replaces rows from county GIS extracts as recon verifies them.
type StaticZoning struct {
	byJurisdiction map[string]ZoningEnvelope
}

// NewStaticZoning builds the source over the embedded table.
func NewStaticZoning() *StaticZoning {
	return NewStaticZoningFrom(zoningTable)
}

// NewStaticZoningFrom builds the source over explicit rows.
func NewStaticZoningFrom(rows map[string]ZoningEnvelope) *StaticZoning {
	byJurisdiction := make(map[string]ZoningEnvelope, len(rows))
	for id, env := range rows {
		byJurisdiction[id] = env
	}
	return &StaticZoning{byJurisdiction: byJurisdiction}
}

// Envelope returns the zoning envelope for a jurisdiction, if mapped.
func (z *StaticZoning) Envelope(jurisdictionID string) (*ZoningEnvelope, bool) {
	env, ok := z.byJurisdiction[jurisdictionID]
	if !ok {
		return nil, false
	}
	return &env, true
}

// zoningTable maps jurisdiction ids to their verified envelopes.
// Dimensional limits come from each county's commercial/industrial
// storage district; a missing dimension means the ordinance did not
// state one and the envelope stays incomplete until reviewed.
var zoningTable = map[string]ZoningEnvelope{
	"nc-buncombe":    {Code: "CI", Posture: PosturePermitted, SetbackFt: 25, MaxHeightFt: 40, MaxCoveragePct: 45},
	"nc-henderson":   {Code: "C-2", Posture: PosturePermitted, SetbackFt: 30, MaxHeightFt: 35, MaxCoveragePct: 40},
	"nc-iredell":     {Code: "HB", Posture: PosturePermitted, SetbackFt: 20, MaxHeightFt: 40, MaxCoveragePct: 50},
	"nc-mecklenburg": {Code: "I-1", Posture: PostureConditional, SetbackFt: 30, MaxHeightFt: 48, MaxCoveragePct: 40},
	"nc-wake":        {Code: "IX-3", Posture: PostureConditional, SetbackFt: 25, MaxHeightFt: 50, MaxCoveragePct: 42},
	"nc-durham":      {Code: "IL", Posture: PosturePermitted, SetbackFt: 25, MaxHeightFt: 45, MaxCoveragePct: 45},
	"sc-lexington":   {Code: "C-3", Posture: PosturePermitted, SetbackFt: 25, MaxHeightFt: 35, MaxCoveragePct: 50},
	"sc-richland":    {Code: "GC", Posture: PosturePermitted, SetbackFt: 25, MaxHeightFt: 40, MaxCoveragePct: 45},
	"sc-greenville":  {Code: "C-2", Posture: PostureConditional, SetbackFt: 30, MaxHeightFt: 35, MaxCoveragePct: 40},
	// Downtown Charleston's overlay bars new storage outright; no
	// variance path per the preservation ordinance.
	"sc-charleston": {Code: "DR-1", Posture: PostureProhibited, Fatal: true},
	"ga-fulton":     {Code: "C-1", Posture: PostureConditional, SetbackFt: 20, MaxHeightFt: 60, MaxCoveragePct: 38},
	"ga-gwinnett":   {Code: "C-2", Posture: PosturePermitted, SetbackFt: 25, MaxHeightFt: 45, MaxCoveragePct: 48},
	"ga-cobb":       {Code: "CRC", Posture: PosturePermitted, SetbackFt: 30, MaxHeightFt: 40, MaxCoveragePct: 45},
	// Chatham's ordinance leaves height unstated for mini-warehouses;
	// envelope stays incomplete pending a staff determination.
	"ga-chatham":      {Code: "B-C", Posture: PostureConditional, SetbackFt: 25, MaxCoveragePct: 40},
	"tn-davidson":     {Code: "IWD", Posture: PosturePermitted, SetbackFt: 20, MaxHeightFt: 45, MaxCoveragePct: 50},
	"tn-knox":         {Code: "CB", Posture: PosturePermitted, SetbackFt: 25, MaxHeightFt: 40, MaxCoveragePct: 45},
	"tn-hamilton":     {Code: "M-1", Posture: PosturePermitted, SetbackFt: 20, MaxHeightFt: 40, MaxCoveragePct: 50},
	"fl-orange":       {Code: "C-3", Posture: PostureConditional, SetbackFt: 25, MaxHeightFt: 50, MaxCoveragePct: 40},
	"fl-hillsborough": {Code: "CG", Posture: PosturePermitted, SetbackFt: 25, MaxHeightFt: 45, MaxCoveragePct: 45},
	"fl-duval":        {Code: "CCG-2", Posture: PosturePermitted, SetbackFt: 20, MaxHeightFt: 45, MaxCoveragePct: 50},
}
