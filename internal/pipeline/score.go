package pipeline

import (
	"sync"

	"github.com/seedcheck/validator-cli/internal/cost"
	"github.com/seedcheck/validator-cli/internal/model"
)

// runCounters tracks provider usage for one run. Fan-out stages increment
// concurrently.
type runCounters struct {
	mu               sync.Mutex
	crawlerCalls     int
	searchCalls      int
	cleanerCalls     int
	cleanerTokens    int
	llmCalls         int
	promptTokens     int
	completionTokens int
	llmModel         string
}

func (c *runCounters) addCrawler(calls int) {
	c.mu.Lock()
	c.crawlerCalls += calls
	c.mu.Unlock()
}

func (c *runCounters) addSearch(queries int) {
	c.mu.Lock()
	c.searchCalls += queries
	c.mu.Unlock()
}

func (c *runCounters) addCleaner(tokens int) {
	c.mu.Lock()
	c.cleanerCalls++
	c.cleanerTokens += tokens
	c.mu.Unlock()
}

// addLLM records one completion attempt. The model of the last successful
// call prices the whole run; candidate fallback rarely mixes models and the
// estimate only needs to be order-of-magnitude honest.
func (c *runCounters) addLLM(modelName string, promptTokens, completionTokens int) {
	c.mu.Lock()
	c.llmCalls++
	c.promptTokens += promptTokens
	c.completionTokens += completionTokens
	if modelName != "" {
		c.llmModel = modelName
	}
	c.mu.Unlock()
}

// metrics derives RunMetrics from the counters and final evidence.
func (c *runCounters) metrics(calc *cost.Calculator, social model.SocialEvidence, competitors model.CompetitorEvidence) model.RunMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	breakdown := model.CostBreakdown{
		CrawlerUSD: calc.Crawler(c.crawlerCalls),
		SearchUSD:  calc.Search(c.searchCalls),
		CleanerUSD: calc.Cleaner(c.cleanerTokens),
		LLMUSD:     calc.LLM(c.llmModel, c.promptTokens, c.completionTokens),
	}
	breakdown.TotalUSD = breakdown.CrawlerUSD + breakdown.SearchUSD + breakdown.CleanerUSD + breakdown.LLMUSD

	return model.RunMetrics{
		DataQualityScore: dataQualityScore(social, competitors),
		EvidenceGrade:    evidenceGrade(social, competitors),
		Cost:             breakdown,
		CrawlerCalls:     c.crawlerCalls,
		SearchCalls:      c.searchCalls,
		CleanerCalls:     c.cleanerCalls,
		LLMCalls:         c.llmCalls,
		PromptTokens:     c.promptTokens,
		CompletionTokens: c.completionTokens,
	}
}

// dataQualityScore sums capped contributions per evidence dimension, 0-100.
// Each dimension saturates so no single source can dominate the score.
func dataQualityScore(social model.SocialEvidence, competitors model.CompetitorEvidence) int {
	score := 0
	score += capped(len(social.SamplePosts)*3, 20)
	score += capped(len(social.SampleComments), 20)
	score += capped(social.TotalItems/10, 10)
	score += capped(int(social.AvgLikes/10), 10)
	score += capped(len(competitors)*2, 15)
	score += capped(competitors.CleanedCount()*4, 15)
	score += capped(competitors.DeepCount()*2, 10)
	return score
}

// evidenceGrade maps evidence volume to the A-D confidence label. Thresholds
// are joint minimums, so adding evidence in any dimension never lowers the
// grade.
func evidenceGrade(social model.SocialEvidence, competitors model.CompetitorEvidence) model.Grade {
	score := dataQualityScore(social, competitors)
	posts := len(social.SamplePosts)
	comments := len(social.SampleComments)
	comps := len(competitors)

	switch {
	case score >= 75 && posts >= 8 && comments >= 20 && comps >= 5:
		return model.GradeA
	case score >= 55 && posts >= 5 && comments >= 10 && comps >= 3:
		return model.GradeB
	case score >= 35 && posts >= 2 && comments >= 4 && comps >= 1:
		return model.GradeC
	default:
		return model.GradeD
	}
}

func capped(v, max int) int {
	if v > max {
		return max
	}
	if v < 0 {
		return 0
	}
	return v
}
