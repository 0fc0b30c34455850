package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/sitescope/internal/capability"
	"github.com/sells-group/sitescope/internal/escalate"
	"github.com/sells-group/sitescope/internal/events"
	"github.com/sells-group/sitescope/internal/fetcher"
	"github.com/sells-group/sitescope/internal/ledger"
	"github.com/sells-group/sitescope/internal/pipeline"
	"github.com/sells-group/sitescope/internal/scoring"
	"github.com/sells-group/sitescope/internal/store"
	"github.com/sells-group/sitescope/pkg/anthropic"
	"github.com/sells-group/sitescope/pkg/census"
	"github.com/sells-group/sitescope/pkg/geocode"
	"github.com/sells-group/sitescope/pkg/overpass"
)

// screenEnv holds the store, event sink, and driver shared by the
// run/batch/serve commands.
type screenEnv struct {
	Store  store.Store
	Driver *pipeline.Driver
	Events *events.BufferedSink
	AI     anthropic.Client
}

// Close flushes buffered events and releases the store.
func (e *screenEnv) Close() {
	if e.Events != nil {
		e.Events.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initScreen wires the full screening stack: store, reference data,
// external clients, the escalation ladder, the capability dispatcher,
// and the pipeline driver. Callers should defer env.Close().
func initScreen(ctx context.Context) (*screenEnv, error) {
	if err := cfg.Validate("screen"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	zips := geocode.NewZipResolver()
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})

	censusClient := census.NewClient(httpFetcher,
		census.WithAPIKey(cfg.Census.Key),
		census.WithYear(cfg.Census.Year),
	)

	// Geocoder is optional; without a key, intake falls back to zip
	// centroids.
	var geocoder geocode.Client
	if cfg.Google.GeocodeKey != "" {
		opts := []geocode.Option{geocode.WithGoogleAPIKey(cfg.Google.GeocodeKey)}
		if ps, ok := st.(*store.PostgresStore); ok {
			opts = append(opts, geocode.WithCache(ps.Pool(), 30))
		}
		geocoder = geocode.NewClient(opts...)
	} else {
		zap.L().Debug("SITESCOPE_GOOGLE_GEOCODE_KEY not set, address geocoding disabled")
	}

	overpassClient := overpass.NewClient(overpass.WithBaseURL(cfg.Overpass.BaseURL))
	scraper := overpass.NewRateScraper()
	anthropicClient := anthropic.NewClient(cfg.Anthropic.Key)

	l, err := ledger.New()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	registry := pipeline.NewProviderRegistry(zips, overpassClient, scraper, anthropicClient)
	resolver := escalate.NewResolver(l, registry).
		WithRecorder(st).
		WithLimiter("osm_rate_survey", rate.NewLimiter(2, 2)).
		WithLimiter("competitor_scrape", rate.NewLimiter(2, 2)).
		WithLimiter("ai_rate_search", rate.NewLimiter(1, 1)).
		WithLimiter("ai_rate_call", rate.NewLimiter(rate.Limit(0.5), 1))

	cache := capability.NewCache(st, zips, capability.Config{
		TTL:           time.Duration(cfg.Capability.TTLDays) * 24 * time.Hour,
		WarningWindow: time.Duration(cfg.Capability.WarningWindowDays) * 24 * time.Hour,
	})
	agent := capability.NewHTTPAgent(cfg.ReconAgent.BaseURL, cfg.ReconAgent.Key,
		capability.WithPollTimeout(time.Duration(cfg.ReconAgent.PollTimeoutSecs)*time.Second),
	)
	dispatcher := capability.NewDispatcher(cache, agent, cfg.ReconAgent.MaxConcurrent)

	pipeCfg := pipeline.DefaultConfig()
	pipeCfg.MinPopulation = cfg.Gates.MinPopulation
	pipeCfg.MinHotspotScore = cfg.Gates.MinHotspotScore
	pipeCfg.RatePromoteConfidence = cfg.Gates.RatePromoteConfidence
	pipeCfg.RateHoldConfidence = cfg.Gates.RateHoldConfidence
	pipeCfg.CostPerSqft = cfg.Financial.CostPerSqft
	pipeCfg.DefaultCoverage = cfg.Financial.DefaultCoverage
	pipeCfg.RentableEfficiency = cfg.Financial.RentableEfficiency
	pipeCfg.DefaultAcreage = cfg.Financial.DefaultAcreage
	pipeCfg.Thresholds = scoring.Thresholds{Go: cfg.Gates.GoThreshold, NoGo: cfg.Gates.NoGoThreshold}

	buffered := events.NewBuffered(st, 256)
	sink := events.MultiSink{events.ZapSink{}, buffered}

	deps := pipeline.Deps{
		Zips:     zips,
		Geocoder: geocoder,
		Census:   censusClient,
		Resolver: resolver,
		Profiles: dispatcher,
		Zoning:   pipeline.NewStaticZoning(),
	}

	return &screenEnv{
		Store:  st,
		Driver: pipeline.NewDriver(st, l, sink, deps, pipeCfg),
		Events: buffered,
		AI:     anthropicClient,
	}, nil
}
