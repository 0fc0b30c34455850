package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/sitescope/internal/escalate"
	"github.com/sells-group/sitescope/internal/model"
	"github.com/sells-group/sitescope/pkg/anthropic"
	"github.com/sells-group/sitescope/pkg/overpass"
)

// Models backing the paid AI tiers.
const (
	tailModel      = "claude-haiku-4-5-20251001"
	expensiveModel = "claude-sonnet-4-5-20250929"
)

// Typical net rentable footprint of one storage facility, for sizing
// supply from a facility count.
const avgFacilitySqft = 45_000.0

const (
	defaultSurveyRadiusM = 8_000 // ~5 miles
	surveyMaxSites       = 3
	scrapeMaxSites       = 10
)

// NewProviderRegistry wires the doctrine tier tools into a registry the
// resolver can escalate through.
func NewProviderRegistry(zips ZipLookup, op overpass.Client, scraper *overpass.RateScraper, ai anthropic.Client) *escalate.Registry {
	reg := escalate.NewRegistry()
	reg.Register(&OSMRateSurveyProvider{zips: zips, overpass: op, scraper: scraper})
	reg.Register(&AIRateProvider{name: "ai_rate_search", model: tailModel, confidence: 0.60, ai: ai})
	reg.Register(&CompetitorScrapeProvider{zips: zips, overpass: op, scraper: scraper})
	reg.Register(&AIRateProvider{name: "ai_rate_call", model: expensiveModel, confidence: 0.85, ai: ai})
	reg.Register(&CompetitorEnumerationProvider{zips: zips, overpass: op})
	reg.Register(&GrowthEstimateProvider{ai: ai})
	return reg
}

// OSMRateSurveyProvider is the free tier-0 rate tool: find nearby
// facilities on OpenStreetMap and pull advertised rates off the first
// few websites. Cheap and shallow; confidence grows with sample size
// but stays below the promote bar on thin pulls.
type OSMRateSurveyProvider struct {
	zips     ZipLookup
	overpass overpass.Client
	scraper  *overpass.RateScraper
}

func (p *OSMRateSurveyProvider) Name() string { return "osm_rate_survey" }

func (p *OSMRateSurveyProvider) Query(ctx context.Context, gap model.GapRequest) (*escalate.Result, error) {
	quotes, err := p.surveyQuotes(ctx, gap.Zip, surveyMaxSites)
	if err != nil {
		return nil, err
	}
	return rateResult(quotes, surveyConfidence(len(quotes)))
}

func (p *OSMRateSurveyProvider) surveyQuotes(ctx context.Context, zip string, maxSites int) ([]overpass.RateQuote, error) {
	info, err := p.zips.Lookup(zip)
	if err != nil {
		return nil, err
	}
	facilities, err := p.overpass.StorageFacilities(ctx, info.Latitude, info.Longitude, defaultSurveyRadiusM)
	if err != nil {
		return nil, err
	}

	var quotes []overpass.RateQuote
	sites := 0
	for _, f := range facilities {
		if f.Website == "" || sites >= maxSites {
			continue
		}
		sites++
		qs, err := p.scraper.ScrapeRates(ctx, f.Website)
		if err != nil {
			zap.L().Debug("pipeline: rate scrape failed",
				zap.String("facility", f.Name), zap.Error(err))
			continue
		}
		quotes = append(quotes, qs...)
	}
	return quotes, nil
}

func surveyConfidence(samples int) float64 {
	conf := 0.45 + 0.10*float64(samples)
	if conf > 0.75 {
		conf = 0.75
	}
	return conf
}

// CompetitorScrapeProvider is the tier-2 rate tool: same survey as
// tier 0 but across every reachable competitor site. Slower and
// heavier, so it only runs after the AI search came up short.
type CompetitorScrapeProvider struct {
	zips     ZipLookup
	overpass overpass.Client
	scraper  *overpass.RateScraper
}

func (p *CompetitorScrapeProvider) Name() string { return "competitor_scrape" }

func (p *CompetitorScrapeProvider) Query(ctx context.Context, gap model.GapRequest) (*escalate.Result, error) {
	survey := &OSMRateSurveyProvider{zips: p.zips, overpass: p.overpass, scraper: p.scraper}
	quotes, err := survey.surveyQuotes(ctx, gap.Zip, scrapeMaxSites)
	if err != nil {
		return nil, err
	}
	conf := 0.55
	if len(quotes) >= 3 {
		conf = 0.75
	}
	return rateResult(quotes, conf)
}

func rateResult(quotes []overpass.RateQuote, confidence float64) (*escalate.Result, error) {
	median, ok := overpass.MedianRatePerSqft(quotes)
	if !ok {
		return &escalate.Result{Outcome: model.TierOutcomeInsufficient}, nil
	}
	return &escalate.Result{
		Outcome:    model.TierOutcomeSuccess,
		Confidence: confidence,
		Evidence: &model.Evidence{
			Kind:       model.DataKindStreetRate,
			Value:      median,
			Unit:       "usd_per_sqft_month",
			SampleSize: len(quotes),
		},
	}, nil
}

// Shared system prompts for the paid AI tiers. They carry a cache
// breakpoint so batch screening pays full input cost once per tier and
// reads the cache for the rest of the batch.
var (
	rateSystemBlocks = anthropic.BuildCachedSystemBlocks(
		"You are a self-storage market analyst. When asked for a street rate, " +
			"report the advertised monthly rate for a standard 10x10 unit in the " +
			"named market, expressed in dollars per square foot per month. " +
			"Reply with the number only.")

	growthSystemBlocks = anthropic.BuildCachedSystemBlocks(
		"You are a demographics analyst. When asked about population growth, " +
			"report the approximate annual growth rate of the named market over " +
			"the last five years as a percentage. Reply with the number only.")
)

// WarmPromptCache primes the prompt cache for the AI tiers before a
// batch run, so concurrent workers read a warm cache instead of racing
// to write it.
func WarmPromptCache(ctx context.Context, ai anthropic.Client) error {
	primers := []anthropic.MessageRequest{
		{
			Model:     tailModel,
			MaxTokens: 1,
			System:    rateSystemBlocks,
			Messages:  []anthropic.Message{{Role: "user", Content: "ok"}},
		},
		{
			Model:     tailModel,
			MaxTokens: 1,
			System:    growthSystemBlocks,
			Messages:  []anthropic.Message{{Role: "user", Content: "ok"}},
		},
	}
	for _, req := range primers {
		if _, err := anthropic.PrimerRequest(ctx, ai, req); err != nil {
			return err
		}
	}
	return nil
}

// AIRateProvider asks a model for the going street rate. The search
// variant runs on the cheap tail model; the call variant runs on the
// larger model with a deeper prompt and a higher confidence grant.
type AIRateProvider struct {
	name       string
	model      string
	confidence float64
	ai         anthropic.Client
}

func (p *AIRateProvider) Name() string { return p.name }

func (p *AIRateProvider) Query(ctx context.Context, gap model.GapRequest) (*escalate.Result, error) {
	prompt := fmt.Sprintf(
		"What is the current advertised street rate in zip code %s?", gap.Zip)

	resp, err := p.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: 64,
		System:    rateSystemBlocks,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(p.model, p.name)

	rate, ok := firstNumber(resp.Text())
	if !ok || rate <= 0 {
		return &escalate.Result{Outcome: model.TierOutcomeInsufficient}, nil
	}
	return &escalate.Result{
		Outcome:    model.TierOutcomeSuccess,
		Confidence: p.confidence,
		Evidence: &model.Evidence{
			Kind:  model.DataKindStreetRate,
			Value: rate,
			Unit:  "usd_per_sqft_month",
		},
	}, nil
}

// CompetitorEnumerationProvider counts storage facilities around the
// zip centroid and sizes total competing supply from the count.
type CompetitorEnumerationProvider struct {
	zips     ZipLookup
	overpass overpass.Client
}

func (p *CompetitorEnumerationProvider) Name() string { return "competitor_enumeration" }

func (p *CompetitorEnumerationProvider) Query(ctx context.Context, gap model.GapRequest) (*escalate.Result, error) {
	info, err := p.zips.Lookup(gap.Zip)
	if err != nil {
		return nil, err
	}
	facilities, err := p.overpass.StorageFacilities(ctx, info.Latitude, info.Longitude, defaultSurveyRadiusM)
	if err != nil {
		return nil, err
	}
	return &escalate.Result{
		Outcome:    model.TierOutcomeSuccess,
		Confidence: 0.70,
		Evidence: &model.Evidence{
			Kind:       model.DataKindCompetitorSet,
			Value:      float64(len(facilities)) * avgFacilitySqft,
			Unit:       "sqft",
			SampleSize: len(facilities),
		},
	}, nil
}

// GrowthEstimateProvider asks the tail model for the market's recent
// annual population growth.
type GrowthEstimateProvider struct {
	ai anthropic.Client
}

func (p *GrowthEstimateProvider) Name() string { return "growth_estimate" }

func (p *GrowthEstimateProvider) Query(ctx context.Context, gap model.GapRequest) (*escalate.Result, error) {
	prompt := fmt.Sprintf(
		"What was the annual population growth rate of zip code %s?", gap.Zip)

	resp, err := p.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     tailModel,
		MaxTokens: 64,
		System:    growthSystemBlocks,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(tailModel, "growth_estimate")

	pct, ok := firstNumber(resp.Text())
	if !ok {
		return &escalate.Result{Outcome: model.TierOutcomeInsufficient}, nil
	}
	return &escalate.Result{
		Outcome:    model.TierOutcomeSuccess,
		Confidence: 0.60,
		Evidence: &model.Evidence{
			Kind:  model.DataKindGrowthRate,
			Value: pct,
			Unit:  "pct_per_year",
		},
	}, nil
}

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// firstNumber extracts the first numeric token from model output.
func firstNumber(s string) (float64, bool) {
	match := numberRe.FindString(s)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
