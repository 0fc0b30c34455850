package finance

import (
	"math"

	"github.com/sells-group/sitescope/internal/model"
)

// mixLine is one doctrine unit type: its share of net rentable area and
// the rent premium over the market base rate per sqft. Small units rent
// at a premium, drive-up large units at a discount.
type mixLine struct {
	size    string
	sqft    float64
	share   float64
	premium float64
}

var doctrineMix = []mixLine{
	{size: "5x5", sqft: 25, share: 0.10, premium: 1.60},
	{size: "5x10", sqft: 50, share: 0.20, premium: 1.35},
	{size: "10x10", sqft: 100, share: 0.30, premium: 1.00},
	{size: "10x15", sqft: 150, share: 0.22, premium: 0.90},
	{size: "10x20", sqft: 200, share: 0.18, premium: 0.82},
}

// UnitMix allocates net rentable area across the doctrine mix at the
// evidenced base rate.
func UnitMix(netRentableSqft, baseRatePerSqft float64) []model.UnitMixLine {
	out := make([]model.UnitMixLine, 0, len(doctrineMix))
	for _, line := range doctrineMix {
		alloc := netRentableSqft * line.share
		out = append(out, model.UnitMixLine{
			Size:        line.size,
			Sqft:        line.sqft,
			Count:       int(math.Floor(alloc / line.sqft)),
			RatePerSqft: baseRatePerSqft * line.premium,
		})
	}
	return out
}

// GrossAnnualRent is the full-occupancy annual rent roll of a mix.
func GrossAnnualRent(mix []model.UnitMixLine) float64 {
	var monthly float64
	for _, line := range mix {
		monthly += float64(line.Count) * line.Sqft * line.RatePerSqft
	}
	return monthly * 12
}
