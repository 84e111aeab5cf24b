package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/pkg/jina"
)

// cleanCompetitors fetches cleaned page content for competitor entries, in
// place, with bounded concurrency. Non-cleanable hosts are skipped up
// front; a failed clean leaves the entry on its snippet. Cleaning never
// fails the run.
func (p *Pipeline) cleanCompetitors(ctx context.Context, competitors model.CompetitorEvidence, budget model.ModeBudget, counters *runCounters) {
	if p.cleaner == nil {
		return
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(budget.Concurrency)

	cleaned := 0
	for i := range competitors {
		if cleaned >= budget.MaxCompetitors {
			break
		}
		if competitors[i].HasCleanedContent || !jina.Cleanable(competitors[i].URL) {
			continue
		}
		cleaned++
		i := i
		g.Go(func() error {
			cleanCtx, cancel := context.WithTimeout(gCtx, budget.CleanTimeout)
			defer cancel()

			result, err := p.cleaner.Clean(cleanCtx, competitors[i].URL)
			if err != nil {
				zap.L().Debug("clean: page clean failed", zap.String("url", competitors[i].URL), zap.Error(err))
				counters.addCleaner(0)
				return nil
			}
			counters.addCleaner(result.Tokens)
			if !result.Success || result.Markdown == "" {
				return nil
			}
			competitors[i].CleanedContent = truncateRunes(result.Markdown, budget.MaxCleanedChars)
			competitors[i].HasCleanedContent = true
			if competitors[i].Title == "" && result.Title != "" {
				competitors[i].Title = result.Title
			}
			return nil
		})
	}
	_ = g.Wait()
}
