package scoring

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

const (
	sqftPerAcre = 43_560.0

	// Single-story storage pencils best between 2 and 6 acres; below
	// ~1 acre the building cannot fit circulation, above ~10 the land
	// carry outweighs phase-one revenue.
	minViableAcres     = 1.0
	optimalLowAcres    = 2.0
	optimalHighAcres   = 6.0
	maxViableAcres     = 10.0
)

// ParcelMetrics are the shape-derived inputs to parcel viability.
type ParcelMetrics struct {
	Acres       float64
	Compactness float64 // isoperimetric ratio in (0,1]; 1 is a circle
}

// ParcelMetricsFromWKT derives acreage and compactness from a parcel
// boundary. Coordinates are expected in a planar feet projection.
func ParcelMetricsFromWKT(boundary string) (ParcelMetrics, error) {
	g, err := wkt.Unmarshal(boundary)
	if err != nil {
		return ParcelMetrics{}, eris.Wrap(err, "scoring: parse parcel WKT")
	}

	poly, ok := g.(*geom.Polygon)
	if !ok {
		return ParcelMetrics{}, eris.Errorf("scoring: parcel boundary is %T, want polygon", g)
	}
	if poly.NumLinearRings() == 0 {
		return ParcelMetrics{}, eris.New("scoring: parcel polygon has no rings")
	}

	ring := poly.LinearRing(0).Coords()
	area := math.Abs(shoelaceArea(ring))
	perimeter := ringPerimeter(ring)
	if area == 0 || perimeter == 0 {
		return ParcelMetrics{}, eris.New("scoring: degenerate parcel polygon")
	}

	return ParcelMetrics{
		Acres:       area / sqftPerAcre,
		Compactness: Clamp(4*math.Pi*area/(perimeter*perimeter), 0, 1),
	}, nil
}

// ParcelViabilityScore rates the parcel shape and size in [0,100].
func ParcelViabilityScore(m ParcelMetrics) float64 {
	var size float64
	switch {
	case m.Acres < minViableAcres || m.Acres > maxViableAcres:
		size = 0
	case m.Acres >= optimalLowAcres && m.Acres <= optimalHighAcres:
		size = 100
	case m.Acres < optimalLowAcres:
		size = 100 * (m.Acres - minViableAcres) / (optimalLowAcres - minViableAcres)
	default:
		size = 100 * (maxViableAcres - m.Acres) / (maxViableAcres - optimalHighAcres)
	}

	// An awkward sliver loses buildable yield even at good acreage.
	shape := 60 + 40*Clamp(m.Compactness/0.6, 0, 1)
	return Clamp(size*shape/100, 0, 100)
}

// ParcelViabilityFromAcreage scores size alone when no boundary is
// available, assuming an unremarkable rectangular shape.
func ParcelViabilityFromAcreage(acres float64) float64 {
	return ParcelViabilityScore(ParcelMetrics{Acres: acres, Compactness: 0.6})
}

func shoelaceArea(ring []geom.Coord) float64 {
	var sum float64
	n := len(ring)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += ring[i][0]*ring[j][1] - ring[j][0]*ring[i][1]
	}
	return sum / 2
}

func ringPerimeter(ring []geom.Coord) float64 {
	var sum float64
	n := len(ring)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += math.Hypot(ring[j][0]-ring[i][0], ring[j][1]-ring[i][1])
	}
	return sum
}
