package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/pkg/llm"
)

const analyzeSystemPrompt = `You are a seasoned market analyst validating a business idea against gathered evidence.
Respond with a JSON object only:
{
  "overall_score": 0-100,
  "verdict": "one-sentence verdict",
  "market_assessment": "2-4 sentences on demand and market signals",
  "risks": ["..."],
  "opportunities": ["..."],
  "next_steps": ["..."]
}
Rules: score reflects evidence strength and demand signals, not optimism. Cite only facts present in the evidence. Lists carry 2-5 entries each. Answer in the idea's language.`

// analyze runs the final assessment through the candidate fallback chain.
// Each candidate gets one attempt; a server-side failure earns one retry on
// the same candidate at the shorter timeout before falling through. When
// every candidate is spent the run fails with the per-candidate trace in
// the error.
func (p *Pipeline) analyze(ctx context.Context, req model.ValidationRequest, social model.SocialEvidence, competitors model.CompetitorEvidence, insight model.AggregatedInsight, counters *runCounters) (model.AnalysisResult, error) {
	cands := p.candidates(req.Runtime)
	if len(cands) == 0 {
		return model.AnalysisResult{}, model.E(model.KindLLMUnavailable, "no language model candidate configured")
	}
	budget := req.Mode.Budget()
	prompt := buildAnalysisPrompt(req, social, competitors, insight)

	llmReq := llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: analyzeSystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:    1500,
		JSONResponse: true,
	}

	var trace []string
	for _, rt := range cands {
		result, err := p.analyzeOnce(ctx, rt, llmReq, budget.LLMTimeout, counters)
		if err != nil && llm.StatusOf(err) >= 500 {
			// Server-side failure: one more attempt on the same candidate,
			// shorter leash.
			zap.L().Warn("analyze: candidate returned server error, retrying once",
				zap.String("candidate", rt.Key()),
				zap.Int("status", llm.StatusOf(err)),
			)
			result, err = p.analyzeOnce(ctx, rt, llmReq, budget.LLMRetryTimeout, counters)
		}
		if err == nil {
			return result, nil
		}
		trace = append(trace, fmt.Sprintf("%s: %v", rt.Key(), err))
		if ctx.Err() != nil {
			return model.AnalysisResult{}, ctx.Err()
		}
		zap.L().Warn("analyze: candidate exhausted",
			zap.String("candidate", rt.Key()),
			zap.Error(err),
		)
	}

	return model.AnalysisResult{}, model.Ef(model.KindLLMAllFailed,
		"all %d analysis candidates failed: %s", len(cands), strings.Join(trace, "; "))
}

func (p *Pipeline) analyzeOnce(ctx context.Context, rt model.LLMRuntime, req llm.Request, timeout time.Duration, counters *runCounters) (model.AnalysisResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.llm.Complete(callCtx, rt, req)
	if err != nil {
		counters.addLLM(rt.Model, 0, 0)
		return model.AnalysisResult{}, err
	}
	counters.addLLM(rt.Model, resp.PromptTokens, resp.CompletionTokens)

	var result model.AnalysisResult
	if err := decodeModelJSON(resp.Text, &result); err != nil {
		return model.AnalysisResult{}, err
	}
	if result.Verdict == "" && result.MarketAssessment == "" {
		return model.AnalysisResult{}, eris.New("analysis response carried no verdict")
	}
	result.OverallScore = clampScore(result.OverallScore)
	return result, nil
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// buildAnalysisPrompt lays the budgeted evidence out for the final call.
func buildAnalysisPrompt(req model.ValidationRequest, social model.SocialEvidence, competitors model.CompetitorEvidence, insight model.AggregatedInsight) string {
	var b strings.Builder
	b.WriteString("Business idea: ")
	b.WriteString(req.IdeaText)
	if len(req.Tags) > 0 {
		b.WriteString("\nTags: ")
		b.WriteString(strings.Join(req.Tags, ", "))
	}

	if !social.Empty() {
		fmt.Fprintf(&b, "\n\nSocial evidence (%d items, avg %.0f likes, avg %.0f comments):\n",
			social.TotalItems, social.AvgLikes, social.AvgComments)
		for _, post := range social.SamplePosts {
			fmt.Fprintf(&b, "- [%s] %s: %s (likes %d)\n", post.Platform, post.Title, post.Content, post.Likes)
		}
		if len(social.SampleComments) > 0 {
			b.WriteString("Comments:\n")
			for _, c := range social.SampleComments {
				fmt.Fprintf(&b, "- %s (likes %d)\n", c.Content, c.Likes)
			}
		}
	} else {
		b.WriteString("\n\nSocial evidence: none gathered.")
	}

	if len(competitors) > 0 {
		fmt.Fprintf(&b, "\nCompetitors (%d found):\n", len(competitors))
		for _, c := range competitors {
			fmt.Fprintf(&b, "- %s [%s] %s\n", c.Title, c.Source, c.Snippet)
			if c.HasCleanedContent {
				fmt.Fprintf(&b, "  Page content: %s\n", c.CleanedContent)
			}
		}
	} else {
		b.WriteString("\nCompetitors: none found.")
	}

	if !insight.Empty() {
		b.WriteString("\nAggregated insight:\n")
		if insight.MarketInsight != "" {
			b.WriteString("Market: " + insight.MarketInsight + "\n")
		}
		if insight.CompetitiveInsight != "" {
			b.WriteString("Competition: " + insight.CompetitiveInsight + "\n")
		}
		for _, f := range insight.KeyFindings {
			b.WriteString("- " + f + "\n")
		}
	}
	return b.String()
}
