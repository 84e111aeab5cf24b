// Package cost estimates per-run provider spend from call and token counts.
package cost

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates holds per-unit pricing for every metered provider.
type Rates struct {
	LLM            map[string]ModelRate `yaml:"llm" mapstructure:"llm"`
	CrawlerPerCall float64              `yaml:"crawler_per_call" mapstructure:"crawler_per_call"`
	SearchPerQuery float64              `yaml:"search_per_query" mapstructure:"search_per_query"`
	CleanerPerMTok float64              `yaml:"cleaner_per_mtok" mapstructure:"cleaner_per_mtok"`
}

// Calculator computes cost estimates for a validation run.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// LLM computes the cost of one or more completions against a model.
// Unknown models fall back to the default rate so the estimate never
// silently drops a call.
func (c *Calculator) LLM(model string, promptTokens, completionTokens int) float64 {
	rate, ok := c.rates.LLM[model]
	if !ok {
		rate = defaultModelRate
	}
	return (float64(promptTokens)/1e6)*rate.Input + (float64(completionTokens)/1e6)*rate.Output
}

// Crawler returns the cost of n crawler-service or third-party crawl calls.
func (c *Calculator) Crawler(calls int) float64 {
	return float64(calls) * c.rates.CrawlerPerCall
}

// Search returns the cost of n search-provider queries.
func (c *Calculator) Search(queries int) float64 {
	return float64(queries) * c.rates.SearchPerQuery
}

// Cleaner returns the cost of page cleaning by approximate token volume.
func (c *Calculator) Cleaner(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.CleanerPerMTok
}

var defaultModelRate = ModelRate{Input: 1.00, Output: 4.00}

// DefaultRates returns the default pricing table.
func DefaultRates() Rates {
	return Rates{
		LLM: map[string]ModelRate{
			"deepseek-chat":              {Input: 0.27, Output: 1.10},
			"glm-4-plus":                 {Input: 0.70, Output: 0.70},
			"qwen-plus":                  {Input: 0.40, Output: 1.20},
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		CrawlerPerCall: 0.01,
		SearchPerQuery: 0.001,
		CleanerPerMTok: 0.02,
	}
}
