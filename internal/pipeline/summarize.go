package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/pkg/llm"
)

// Minimum content length before an item is worth a layer-1 summary call.
// Shorter items go into the final prompt verbatim instead.
const (
	minPostSummaryRunes       = 60
	minCompetitorSummaryRunes = 200
)

const summarizeL1Prompt = `Summarize the following content in one or two sentences, keeping concrete facts (numbers, product names, complaints, wishes). Respond with the summary text only, in the content's language.`

const summarizeL2Prompt = `You aggregate evidence summaries about a business idea into market insight.
Respond with a JSON object only:
{"market_insight": "...", "competitive_insight": "...", "key_findings": ["...", "..."]}
Rules: ground every statement in the provided summaries, 3-6 key findings, no invented facts.`

// layerOneSummaries produces per-item summaries for long-form evidence.
// Items run in batches at the mode's concurrency with a pause between
// batches; a failed item is skipped. Social and competitor summaries come
// back separately for the aggregation prompt.
func (p *Pipeline) layerOneSummaries(ctx context.Context, req model.ValidationRequest, social model.SocialEvidence, competitors model.CompetitorEvidence, counters *runCounters) (socialSums, compSums []string) {
	budget := req.Mode.Budget()

	type item struct {
		text   string
		social bool
	}
	var items []item
	for _, post := range social.SamplePosts {
		text := strings.TrimSpace(post.Title + "\n" + post.Content)
		if utf8.RuneCountInString(text) >= minPostSummaryRunes {
			items = append(items, item{text: text, social: true})
		}
	}
	for _, comp := range competitors {
		if !comp.HasCleanedContent || utf8.RuneCountInString(comp.CleanedContent) < minCompetitorSummaryRunes {
			continue
		}
		items = append(items, item{text: comp.Title + "\n" + comp.CleanedContent})
	}
	if len(items) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	for start := 0; start < len(items); start += budget.Concurrency {
		if ctx.Err() != nil {
			break
		}
		end := start + budget.Concurrency
		if end > len(items) {
			end = len(items)
		}

		g, gCtx := errgroup.WithContext(ctx)
		for _, it := range items[start:end] {
			it := it
			g.Go(func() error {
				resp, err := p.completeAny(gCtx, req.Runtime, budget, llm.Request{
					Messages: []llm.Message{
						{Role: "system", Content: summarizeL1Prompt},
						{Role: "user", Content: truncateRunes(it.text, budget.MaxCleanedChars)},
					},
					MaxTokens: 200,
				}, counters)
				if err != nil {
					zap.L().Debug("summarize: item summary failed", zap.Error(err))
					return nil
				}
				summary := strings.TrimSpace(resp.Text)
				if summary == "" {
					return nil
				}
				mu.Lock()
				if it.social {
					socialSums = append(socialSums, summary)
				} else {
					compSums = append(compSums, summary)
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if end < len(items) && budget.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(budget.BatchDelay):
			}
		}
	}
	return socialSums, compSums
}

// layerTwoInsight aggregates layer-1 summaries into the run's insight.
// With no summaries at all the call is skipped and the zero insight is the
// terminal state. Call or parse failure also degrades to the zero insight.
func (p *Pipeline) layerTwoInsight(ctx context.Context, req model.ValidationRequest, socialSums, compSums []string, counters *runCounters) model.AggregatedInsight {
	if len(socialSums) == 0 && len(compSums) == 0 {
		return model.AggregatedInsight{}
	}
	budget := req.Mode.Budget()

	var b strings.Builder
	b.WriteString("Business idea: ")
	b.WriteString(req.IdeaText)
	if len(socialSums) > 0 {
		b.WriteString("\n\nSocial evidence summaries:\n")
		for _, s := range socialSums {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	if len(compSums) > 0 {
		b.WriteString("\nCompetitor summaries:\n")
		for _, s := range compSums {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	resp, err := p.completeAny(ctx, req.Runtime, budget, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: summarizeL2Prompt},
			{Role: "user", Content: b.String()},
		},
		MaxTokens:    800,
		JSONResponse: true,
	}, counters)
	if err != nil {
		zap.L().Warn("summarize: aggregation failed", zap.Error(err))
		return model.AggregatedInsight{}
	}

	var insight model.AggregatedInsight
	if err := decodeModelJSON(resp.Text, &insight); err != nil {
		zap.L().Warn("summarize: aggregation output unparseable", zap.Error(err))
		return model.AggregatedInsight{}
	}
	return insight
}
