package overpass

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractRates(t *testing.T) {
	t.Parallel()

	page := `
	<div class="unit">5x5 Climate Controlled <span class="price">$45</span></div>
	<div class="unit">10x10 Drive Up <span class="price">$109.00</span></div>
	<div class="unit">10x20 Vehicle <span class="price">$189</span></div>`

	quotes := ExtractRates(page)
	require.Len(t, quotes, 3)

	assert.Equal(t, "5x5", quotes[0].Size)
	assert.InDelta(t, 25, quotes[0].Sqft, 1e-9)
	assert.InDelta(t, 45, quotes[0].MonthlyUSD, 1e-9)

	assert.Equal(t, "10x10", quotes[1].Size)
	assert.InDelta(t, 109, quotes[1].MonthlyUSD, 1e-9)

	assert.Equal(t, "10x20", quotes[2].Size)
	assert.InDelta(t, 189.0/200.0, quotes[2].RatePerSqft(), 1e-9)
}

func TestExtractRates_NoPairs(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ExtractRates("Call for availability! Units from 5x5 to 10x30."))
	assert.Empty(t, ExtractRates("Admin fee $25 applies."))
	assert.Empty(t, ExtractRates(""))
}

func TestExtractRates_PriceTooFarAway(t *testing.T) {
	t.Parallel()

	filler := make([]byte, 400)
	for i := range filler {
		filler[i] = 'z'
	}
	page := "10x10 unit " + string(filler) + " $99"

	assert.Empty(t, ExtractRates(page))
}

func TestMedianRatePerSqft(t *testing.T) {
	t.Parallel()

	quotes := []RateQuote{
		{Size: "5x5", Sqft: 25, MonthlyUSD: 50},    // 2.00/sqft
		{Size: "10x10", Sqft: 100, MonthlyUSD: 120}, // 1.20/sqft
		{Size: "10x20", Sqft: 200, MonthlyUSD: 180}, // 0.90/sqft
	}

	rate, ok := MedianRatePerSqft(quotes)
	require.True(t, ok)
	assert.InDelta(t, 1.20, rate, 1e-9)

	// Even count takes the midpoint average.
	rate, ok = MedianRatePerSqft(quotes[:2])
	require.True(t, ok)
	assert.InDelta(t, 1.60, rate, 1e-9)

	_, ok = MedianRatePerSqft(nil)
	assert.False(t, ok)

	_, ok = MedianRatePerSqft([]RateQuote{{Size: "10x10", Sqft: 100, MonthlyUSD: 0}})
	assert.False(t, ok)
}

func TestScrapeRates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sitescope/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte(`<html><body>10x10 unit from $95/mo</body></html>`)) //nolint:errcheck
	}))
	defer srv.Close()

	s := NewRateScraper()
	quotes, err := s.ScrapeRates(context.Background(), srv.URL)

	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.InDelta(t, 95, quotes[0].MonthlyUSD, 1e-9)
}

func TestScrapeRates_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewRateScraper()
	_, err := s.ScrapeRates(context.Background(), srv.URL)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
