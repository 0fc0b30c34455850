package overpass

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// RateQuote is one advertised unit price extracted from a competitor
// page.
type RateQuote struct {
	Size       string  `json:"size"` // e.g. "10x10"
	Sqft       float64 `json:"sqft"`
	MonthlyUSD float64 `json:"monthly_usd"`
}

// RatePerSqft returns the quote's monthly rate per square foot.
func (q RateQuote) RatePerSqft() float64 {
	if q.Sqft <= 0 {
		return 0
	}
	return q.MonthlyUSD / q.Sqft
}

// RateScraper pulls advertised unit rates off competitor websites. The
// scrape tier is best-effort: facility sites vary wildly, so extraction
// is pattern-based, not structural.
type RateScraper struct {
	http      *http.Client
	userAgent string
	maxBody   int64
}

// ScrapeOption configures a RateScraper.
type ScrapeOption func(*RateScraper)

// WithScrapeHTTPClient sets a custom HTTP client.
func WithScrapeHTTPClient(hc *http.Client) ScrapeOption {
	return func(s *RateScraper) {
		s.http = hc
	}
}

// NewRateScraper creates a scrape-tier rate fetcher.
func NewRateScraper(opts ...ScrapeOption) *RateScraper {
	s := &RateScraper{
		http:      &http.Client{Timeout: 30 * time.Second},
		userAgent: "sitescope/1.0",
		maxBody:   2 << 20, // 2 MiB cap; pricing pages are small
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScrapeRates fetches a page and extracts unit-size/price pairs.
// Returns an empty slice when the page yields no recognizable quotes;
// that is an insufficient-data outcome, not an error.
func (s *RateScraper) ScrapeRates(ctx context.Context, pageURL string) ([]RateQuote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: create scrape request")
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: scrape request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("overpass: scrape status %d for %s", resp.StatusCode, pageURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: read scrape body")
	}

	return ExtractRates(string(body)), nil
}

var (
	sizeRe  = regexp.MustCompile(`(\d{1,2})\s*[x×X]\s*(\d{1,2})`)
	priceRe = regexp.MustCompile(`\$\s*(\d{1,4}(?:\.\d{2})?)`)
)

// pairWindow is how far (in bytes) a price may sit from a unit size and
// still be treated as that unit's quote.
const pairWindow = 160

// ExtractRates pulls size/price pairs out of page text. A price is
// paired with the nearest preceding-or-following unit size within the
// pairing window; unpaired sizes and prices are dropped.
func ExtractRates(text string) []RateQuote {
	sizes := sizeRe.FindAllStringSubmatchIndex(text, -1)
	prices := priceRe.FindAllStringSubmatchIndex(text, -1)
	if len(sizes) == 0 || len(prices) == 0 {
		return []RateQuote{}
	}

	quotes := make([]RateQuote, 0, len(sizes))
	usedPrice := make(map[int]bool, len(prices))

	for _, sm := range sizes {
		w, _ := strconv.Atoi(text[sm[2]:sm[3]])
		h, _ := strconv.Atoi(text[sm[4]:sm[5]])
		if w == 0 || h == 0 {
			continue
		}

		// Nearest unused price within the window.
		best, bestDist := -1, pairWindow+1
		for pi, pm := range prices {
			if usedPrice[pi] {
				continue
			}
			dist := pm[0] - sm[1]
			if dist < 0 {
				dist = sm[0] - pm[1]
			}
			if dist >= 0 && dist < bestDist {
				best, bestDist = pi, dist
			}
		}
		if best < 0 {
			continue
		}

		price, err := strconv.ParseFloat(text[prices[best][2]:prices[best][3]], 64)
		if err != nil || price <= 0 {
			continue
		}
		usedPrice[best] = true

		quotes = append(quotes, RateQuote{
			Size:       strconv.Itoa(w) + "x" + strconv.Itoa(h),
			Sqft:       float64(w * h),
			MonthlyUSD: price,
		})
	}
	return quotes
}

// MedianRatePerSqft collapses quotes to a single street-rate figure.
// Returns (0, false) when no quote carries a usable rate.
func MedianRatePerSqft(quotes []RateQuote) (float64, bool) {
	rates := make([]float64, 0, len(quotes))
	for _, q := range quotes {
		if r := q.RatePerSqft(); r > 0 {
			rates = append(rates, r)
		}
	}
	if len(rates) == 0 {
		return 0, false
	}
	sort.Float64s(rates)
	mid := len(rates) / 2
	if len(rates)%2 == 0 {
		return (rates[mid-1] + rates[mid]) / 2, true
	}
	return rates[mid], true
}
