// Package cost prices paid actions: Claude token usage for the AI
// escalation tiers and flat per-invocation rates for tools and agent
// recon. Every figure that ends up in a tier attempt or step outcome
// comes from here.
package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Tools     map[string]float64   `yaml:"tools" mapstructure:"tools"`
	Agent     AgentRate            `yaml:"agent" mapstructure:"agent"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// AgentRate holds external recon agent pricing.
type AgentRate struct {
	PerRecon float64 `yaml:"per_recon" mapstructure:"per_recon"`
}

// Calculator computes costs for API and tool usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, isBatch bool, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	batchMul := 1.0
	if isBatch {
		batchMul = rate.BatchDiscount
	}

	inCost := (float64(input) / 1e6) * rate.Input * batchMul
	outCost := (float64(output) / 1e6) * rate.Output * batchMul
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul * batchMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul * batchMul

	return inCost + outCost + cwCost + crCost
}

// Tool returns the flat per-invocation rate for a named tool. Free
// tools (OSM survey, competitor scrape) are simply absent from the
// table and price at zero.
func (c *Calculator) Tool(name string) float64 {
	return c.rates.Tools[name]
}

// AgentRecon returns the flat cost of one external agent recon.
func (c *Calculator) AgentRecon() float64 {
	return c.rates.Agent.PerRecon
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Tools: map[string]float64{
			"ai_rate_search": 0.01,
			"ai_rate_call":   0.50,
			"growth_estimate": 0.01,
		},
		Agent: AgentRate{PerRecon: 2.00},
	}
}
