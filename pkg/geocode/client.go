// Package geocode resolves site addresses to coordinates via the Census
// Geocoder (primary) and Google (fallback), with an optional Postgres
// result cache, and carries the embedded zip-to-jurisdiction reference
// table used by intake.
package geocode

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/sitescope/internal/db"
)

// Client geocodes addresses using Census Geocoder (primary) and Google (fallback).
type Client interface {
	// Geocode geocodes a single address.
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)

	// BatchGeocode geocodes multiple addresses.
	BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error)
}

// AddressInput represents an address to geocode.
type AddressInput struct {
	ID      string // Optional identifier for batch correlation
	Street  string
	City    string
	State   string
	ZipCode string
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude   float64
	Longitude  float64
	Source     string  // "census", "google", or "cache"
	Quality    string  // "rooftop", "range", "centroid", "approximate"
	Confidence float64 // derived from quality, in [0,1]
	Matched    bool
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithGoogleAPIKey enables Google Geocoding API as a fallback.
func WithGoogleAPIKey(key string) Option {
	return func(g *geocoder) {
		g.googleKey = key
	}
}

// WithHTTPClient sets a custom HTTP client for both Census and Google requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second rate limit for Census API calls.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		g.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// WithCache enables the Postgres result cache. A ttlDays of zero keeps
// entries forever.
func WithCache(pool db.Pool, ttlDays int) Option {
	return func(g *geocoder) {
		g.pool = pool
		g.cacheTTLDays = ttlDays
	}
}

type geocoder struct {
	httpClient   *http.Client
	googleKey    string
	limiter      *rate.Limiter
	pool         db.Pool
	cacheTTLDays int
}

// NewClient creates a new geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(50, 50), // Census default: 50 req/s
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Geocode geocodes a single address: cache, then Census, then Google if
// configured. Both matches and non-matches are cached.
func (g *geocoder) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	var key string
	if g.pool != nil {
		key = cacheKey(addr)
		if cached, err := g.checkCache(ctx, key); err == nil {
			return cached, nil
		}
	}

	result, censusErr := g.geocodeCensus(ctx, addr)
	if censusErr == nil && result.Matched {
		g.cacheStore(ctx, key, result)
		return result, nil
	}

	// If Census failed or didn't match, try Google if configured.
	if g.googleKey != "" {
		googleResult, googleErr := g.geocodeGoogle(ctx, addr)
		if googleErr == nil && googleResult.Matched {
			g.cacheStore(ctx, key, googleResult)
			return googleResult, nil
		}
	}

	// No match from any provider — this is not an error, just unmatched.
	miss := &Result{Matched: false}
	g.cacheStore(ctx, key, miss)
	return miss, nil
}

// BatchGeocode geocodes multiple addresses using Census batch API, falling back
// to Google for individual unmatched addresses.
func (g *geocoder) BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	// Assign IDs for batch correlation if not set.
	for i := range addrs {
		if addrs[i].ID == "" {
			addrs[i].ID = fmt.Sprintf("%d", i)
		}
	}

	// Try Census batch geocoding.
	results, err := g.batchGeocodeCensus(ctx, addrs)
	if err != nil {
		// Fall back to individual geocoding.
		results = make([]Result, len(addrs))
		for i, addr := range addrs {
			r, geocodeErr := g.Geocode(ctx, addr)
			if geocodeErr != nil {
				results[i] = Result{Matched: false}
				continue
			}
			results[i] = *r
		}
		return results, nil
	}

	// For unmatched Census results, try Google individually if configured.
	if g.googleKey != "" {
		for i, r := range results {
			if !r.Matched {
				googleResult, googleErr := g.geocodeGoogle(ctx, addrs[i])
				if googleErr == nil && googleResult.Matched {
					results[i] = *googleResult
				}
			}
		}
	}

	return results, nil
}

// cacheStore writes through to the cache when enabled; failures are
// logged, never surfaced.
func (g *geocoder) cacheStore(ctx context.Context, key string, result *Result) {
	if g.pool == nil || key == "" {
		return
	}
	if err := g.storeCache(ctx, key, result); err != nil {
		zap.L().Warn("geocode cache store failed", zap.Error(err))
	}
}

// qualityConfidence maps the quality taxonomy onto [0,1].
func qualityConfidence(quality string) float64 {
	switch quality {
	case "rooftop":
		return 0.98
	case "range":
		return 0.90
	case "centroid":
		return 0.75
	case "approximate":
		return 0.60
	default:
		return 0
	}
}
