package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/pkg/llm"
)

// candidates assembles the ordered language-model fallback list: the run's
// primary, then the run's own fallbacks, then the system-configured
// fallbacks. Duplicates (same provider, endpoint and model) are dropped,
// first occurrence wins, so a system fallback repeating the user's primary
// is not retried twice.
func (p *Pipeline) candidates(rc model.RuntimeConfig) []model.LLMRuntime {
	seen := make(map[string]bool)
	var out []model.LLMRuntime

	add := func(rt model.LLMRuntime) {
		if !rt.Configured() || seen[rt.Key()] {
			return
		}
		seen[rt.Key()] = true
		out = append(out, rt)
	}

	add(rc.Primary)
	for _, rt := range rc.Fallbacks {
		add(rt)
	}
	for _, ep := range p.cfg.LLM.Fallbacks {
		add(ep.Runtime())
	}
	return out
}

// completeAny runs a completion against the first candidate that answers.
// Used by the supporting stages (keyword expansion, extraction, summaries)
// where a failed call degrades the stage instead of failing the run; the
// final analysis has its own stricter loop.
func (p *Pipeline) completeAny(ctx context.Context, rc model.RuntimeConfig, budget model.ModeBudget, req llm.Request, counters *runCounters) (*llm.Response, error) {
	cands := p.candidates(rc)
	if len(cands) == 0 {
		return nil, model.E(model.KindLLMUnavailable, "no language model candidate configured")
	}

	var lastErr error
	for _, rt := range cands {
		callCtx, cancel := context.WithTimeout(ctx, budget.LLMTimeout)
		resp, err := p.llm.Complete(callCtx, rt, req)
		cancel()

		if err == nil {
			counters.addLLM(rt.Model, resp.PromptTokens, resp.CompletionTokens)
			return resp, nil
		}
		counters.addLLM(rt.Model, 0, 0)
		lastErr = err
		zap.L().Warn("pipeline: completion candidate failed",
			zap.String("candidate", rt.Key()),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, eris.Wrap(lastErr, "all completion candidates failed")
}
