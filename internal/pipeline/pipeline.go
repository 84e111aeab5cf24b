// Package pipeline runs the staged validation flow: keyword expansion,
// evidence acquisition through the source router, competitor discovery,
// two-layer summarization and the final language-model analysis. Progress
// is reported on a per-run event stream; every run ends in exactly one
// terminal event and a terminal record status.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seedcheck/validator-cli/internal/config"
	"github.com/seedcheck/validator-cli/internal/cost"
	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/internal/resilience"
	"github.com/seedcheck/validator-cli/internal/store"
	"github.com/seedcheck/validator-cli/pkg/crawler"
	"github.com/seedcheck/validator-cli/pkg/jina"
	"github.com/seedcheck/validator-cli/pkg/llm"
	"github.com/seedcheck/validator-cli/pkg/serper"
	"github.com/seedcheck/validator-cli/pkg/tikhub"
)

// evidenceCacheTTL bounds how long gathered evidence answers a repeated
// keyword without re-acquisition.
const evidenceCacheTTL = 24 * time.Hour

// QuotaGate authorizes metered third-party usage.
type QuotaGate interface {
	Authorize(ctx context.Context, userID string) error
	Remaining(ctx context.Context, userID string) (int, error)
}

// Pipeline orchestrates validation runs.
type Pipeline struct {
	cfg           *config.Config
	store         store.Store
	crawler       crawler.Client
	tikhubFactory func(token string) tikhub.Client
	cleaner       jina.Client
	searchFactory SearchFactory
	llm           llm.Client
	quota         QuotaGate
	costCalc      *cost.Calculator
	signals       *signalStore
	breakers      *resilience.ServiceBreakers
}

// New creates a Pipeline with all dependencies. crawlerClient may be nil
// when the self-crawler is not deployed; tikhubFactory may be nil when the
// third-party path is off entirely.
func New(
	cfg *config.Config,
	st store.Store,
	crawlerClient crawler.Client,
	tikhubFactory func(token string) tikhub.Client,
	cleaner jina.Client,
	searchFactory SearchFactory,
	llmClient llm.Client,
	quotaGate QuotaGate,
) *Pipeline {
	return &Pipeline{
		cfg:           cfg,
		store:         st,
		crawler:       crawlerClient,
		tikhubFactory: tikhubFactory,
		cleaner:       cleaner,
		searchFactory: searchFactory,
		llm:           llmClient,
		quota:         quotaGate,
		costCalc:      cost.NewCalculator(ratesFromConfig(cfg.Pricing)),
		signals:       newSignalStore(),
		breakers:      resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
	}
}

// DefaultSearchFactory builds search providers from the run's credentials.
func DefaultSearchFactory(cfg *config.Config) SearchFactory {
	return func(rc model.RuntimeConfig) []SearchProvider {
		var providers []SearchProvider
		if key := rc.SearchKeys["jina"]; key != "" {
			providers = append(providers, &jinaProvider{client: jina.NewClient(key,
				jina.WithBaseURL(cfg.Jina.BaseURL),
				jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL),
			)})
		}
		if key := rc.SearchKeys["serper"]; key != "" {
			providers = append(providers, &serperProvider{client: serper.NewClient(key,
				serper.WithBaseURL(cfg.Serper.BaseURL),
			)})
		}
		return providers
	}
}

// ratesFromConfig overlays configured pricing onto the defaults.
func ratesFromConfig(pc config.PricingConfig) cost.Rates {
	rates := cost.DefaultRates()
	if pc.CrawlerPerCall > 0 {
		rates.CrawlerPerCall = pc.CrawlerPerCall
	}
	if pc.SearchPerQuery > 0 {
		rates.SearchPerQuery = pc.SearchPerQuery
	}
	if pc.CleanerPerMTok > 0 {
		rates.CleanerPerMTok = pc.CleanerPerMTok
	}
	for name, mp := range pc.LLM {
		rates.LLM[name] = cost.ModelRate{Input: mp.Input, Output: mp.Output}
	}
	return rates
}

// Run starts one validation. The returned channel carries progress events
// and closes after exactly one terminal event; callers must drain it.
func (p *Pipeline) Run(ctx context.Context, req model.ValidationRequest) <-chan model.ProgressEvent {
	events := make(chan model.ProgressEvent, 64)
	go func() {
		defer close(events)
		p.run(ctx, req, events)
	}()
	return events
}

func (p *Pipeline) run(ctx context.Context, req model.ValidationRequest, events chan model.ProgressEvent) {
	if err := req.Validate(); err != nil {
		newEmitter("", events).Terminal(StageInit, err)
		return
	}

	rec, err := p.store.CreateValidation(ctx, req)
	if err != nil {
		newEmitter("", events).Terminal(StageInit, eris.Wrap(err, "create validation"))
		return
	}
	em := newEmitter(rec.ID, events)
	counters := &runCounters{}
	budget := req.Mode.Budget()

	em.Stage(StageInit, "validation created")
	if len(p.candidates(req.Runtime)) == 0 {
		p.fail(ctx, em, rec, StageInit, model.E(model.KindLLMUnavailable, "no language model candidate configured"))
		return
	}

	// Stage: keyword expansion.
	em.Stage(StageKeywordExpand, "expanding idea into search keywords")
	keywords := p.expandKeywords(ctx, req, counters)
	keyword := keywords[0]
	if p.cancelled(ctx, em, rec, req, model.SocialEvidence{}, nil, model.AggregatedInsight{}, counters) {
		return
	}

	// Stage: evidence cache.
	em.Stage(StageCacheCheck, "checking evidence cache for "+keyword)
	var social model.SocialEvidence
	var competitors model.CompetitorEvidence
	usedCache := false
	if cached, cerr := p.store.GetCachedEvidence(ctx, keyword); cerr != nil {
		zap.L().Warn("pipeline: evidence cache read failed", zap.Error(cerr))
	} else if cached != nil {
		social = cached.Social
		competitors = cached.Competitors
		usedCache = true
	}

	// Stage: social acquisition.
	usedCrawlerService := false
	if usedCache && !social.Empty() {
		em.Stage(StageSourceRouting, "social evidence served from cache")
	} else {
		em.Stage(StageSourceRouting, "routing social acquisition")
		if !req.Runtime.AcquisitionEnabled() {
			p.fail(ctx, em, rec, StageSourceRouting, model.E(model.KindDataSourceDisabled, "no data acquisition path is enabled"))
			return
		}
		outcome, rerr := p.routeSocial(ctx, req, keyword, counters)
		if rerr != nil {
			p.fail(ctx, em, rec, StageSourceRouting, rerr)
			return
		}
		social = outcome.evidence
		usedCrawlerService = outcome.usedCrawlerService
	}
	if p.cancelled(ctx, em, rec, req, social, competitors, model.AggregatedInsight{}, counters) {
		return
	}

	// Stage: competitor search. A cache hit carries the full discovery
	// round (clean, extract, deep search included), so those stages only
	// acknowledge and move on.
	providers := p.searchFactory(req.Runtime)
	cachedCompetitors := usedCache && len(competitors) > 0
	if cachedCompetitors {
		em.Stage(StageCompetitorSearch, "competitors served from cache")
	} else {
		em.Stage(StageCompetitorSearch, fmt.Sprintf("searching %d providers", len(providers)))
		queries := keywords
		if len(queries) > 3 {
			queries = queries[:3]
		}
		hits := p.searchAll(ctx, providers, queries, budget, counters)
		for _, hit := range hits {
			competitors = append(competitors, model.Competitor{
				Title:   hit.Title,
				URL:     hit.URL,
				Snippet: hit.Snippet,
				Source:  model.SourceSearch,
			})
		}
	}

	// Stage: page cleaning.
	if cachedCompetitors {
		em.Stage(StageContentClean, "cleaned pages served from cache")
	} else {
		em.Stage(StageContentClean, fmt.Sprintf("cleaning up to %d competitor pages", budget.MaxCompetitors))
		p.cleanCompetitors(ctx, competitors, budget, counters)
	}
	if p.cancelled(ctx, em, rec, req, social, competitors, model.AggregatedInsight{}, counters) {
		return
	}

	// Stage: entity extraction and the deep search round.
	if cachedCompetitors {
		em.Stage(StageCompetitorExtr, "extraction served from cache")
		em.Stage(StageDeepSearch, "deep search served from cache")
	} else {
		em.Stage(StageCompetitorExtr, "extracting competitor entities")
		entities := p.extractEntities(ctx, req, competitors, counters)

		em.Stage(StageDeepSearch, fmt.Sprintf("deep searching %d entities", len(entities)))
		deepHits := p.deepSearch(ctx, providers, entities, budget, counters)
		competitors = mergeCompetitors(competitors, deepHits)
	}

	if !usedCache {
		if cerr := p.store.SetCachedEvidence(ctx, store.CachedEvidence{
			Keyword:     keyword,
			Social:      social,
			Competitors: competitors,
			CachedAt:    time.Now().UTC(),
		}, evidenceCacheTTL); cerr != nil {
			zap.L().Warn("pipeline: evidence cache write failed", zap.Error(cerr))
		}
	}

	// Checkpoint so a cancellation has partial evidence to report from.
	p.checkpoint(ctx, rec, req, social, competitors, counters)
	if p.cancelled(ctx, em, rec, req, social, competitors, model.AggregatedInsight{}, counters) {
		return
	}

	// Stage: context budget.
	em.Stage(StageContextBudget, "trimming evidence to the mode context budget")
	var stats budgetStats
	social, competitors, stats = applyBudget(social, competitors, budget)
	zap.L().Debug("pipeline: context budget applied",
		zap.Int("chars_after", stats.CharsAfter),
		zap.Int("posts_dropped", stats.PostsDropped),
		zap.Int("comments_dropped", stats.CommentsDropped),
		zap.Int("competitors_dropped", stats.CompetitorsDropped),
	)

	// Stages: two-layer summarization.
	em.Stage(StageSummarizeL1, "summarizing long-form evidence")
	socialSums, compSums := p.layerOneSummaries(ctx, req, social, competitors, counters)

	em.Stage(StageSummarizeL2, "aggregating insight")
	insight := p.layerTwoInsight(ctx, req, socialSums, compSums, counters)
	if p.cancelled(ctx, em, rec, req, social, competitors, insight, counters) {
		return
	}

	// Stage: final analysis.
	em.Stage(StageAnalyze, "running final analysis")
	analysis, aerr := p.analyze(ctx, req, social, competitors, insight, counters)
	if aerr != nil {
		if ctx.Err() != nil && p.cancelled(ctx, em, rec, req, social, competitors, insight, counters) {
			return
		}
		p.fail(ctx, em, rec, StageAnalyze, aerr)
		return
	}

	// Stage: persist the report.
	em.Stage(StagePersist, "persisting report")
	report := &model.Report{
		ValidationID: rec.ID,
		IdeaText:     req.IdeaText,
		Tags:         req.Tags,
		Mode:         req.Mode,
		Social:       social,
		Competitors:  competitors,
		Insight:      insight,
		Analysis:     analysis,
		Metrics:      counters.metrics(p.costCalc, social, competitors),
		GeneratedAt:  time.Now().UTC(),
	}
	if perr := resilience.Do(ctx, resilience.PersistRetryConfig(), func(ctx context.Context) error {
		return p.store.UpsertReport(ctx, report)
	}); perr != nil {
		p.fail(ctx, em, rec, StagePersist, eris.Wrap(perr, "persist report"))
		return
	}

	// Stage: quota accounting. Consumption happened at call time inside the
	// router; this stage only surfaces what is left.
	if usedCrawlerService || req.Runtime.CrawlerToken != "" {
		em.Stage(StageQuotaConsume, "no free-tier quota consumed")
	} else if remaining, qerr := p.quota.Remaining(ctx, req.UserID); qerr == nil {
		em.Stage(StageQuotaConsume, fmt.Sprintf("%d free crawls remaining", remaining))
	} else {
		em.Stage(StageQuotaConsume, "quota state unavailable")
	}

	// Stage: terminal status.
	if uerr := resilience.Do(ctx, resilience.PersistRetryConfig(), func(ctx context.Context) error {
		err := p.store.UpdateStatus(ctx, rec.ID, model.StatusCompleted, analysis.OverallScore, rec.Version)
		if model.IsKind(err, model.KindConflict) {
			// A concurrent cancellation already wrote the terminal state.
			zap.L().Warn("pipeline: terminal write lost version race", zap.String("validation_id", rec.ID))
			return nil
		}
		return err
	}); uerr != nil {
		em.Terminal(StageComplete, eris.Wrap(uerr, "write terminal status"))
		return
	}
	em.Terminal(StageComplete, nil)
}

// checkpoint persists a partial report so cancellation can produce a
// degraded one. Best effort.
func (p *Pipeline) checkpoint(ctx context.Context, rec *model.ValidationRecord, req model.ValidationRequest, social model.SocialEvidence, competitors model.CompetitorEvidence, counters *runCounters) {
	err := p.store.UpsertReport(ctx, &model.Report{
		ValidationID: rec.ID,
		IdeaText:     req.IdeaText,
		Tags:         req.Tags,
		Mode:         req.Mode,
		Social:       social,
		Competitors:  competitors,
		Metrics:      counters.metrics(p.costCalc, social, competitors),
		Degraded:     true,
		GeneratedAt:  time.Now().UTC(),
	})
	if err != nil {
		zap.L().Warn("pipeline: checkpoint write failed", zap.String("validation_id", rec.ID), zap.Error(err))
	}
}

// cancelled checks for context cancellation between stages. A cancelled run
// completes degraded off the evidence gathered so far instead of failing.
func (p *Pipeline) cancelled(ctx context.Context, em *emitter, rec *model.ValidationRecord, req model.ValidationRequest, social model.SocialEvidence, competitors model.CompetitorEvidence, insight model.AggregatedInsight, counters *runCounters) bool {
	if ctx.Err() == nil {
		return false
	}
	p.completeDegraded(em, rec, req, social, competitors, insight, counters, "run cancelled before analysis completed")
	return true
}

// fail writes the failed terminal status and emits the terminal event. The
// write uses a fresh deadline so a cancelled run context cannot leave the
// record stuck in processing.
func (p *Pipeline) fail(ctx context.Context, em *emitter, rec *model.ValidationRecord, stage string, err error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if uerr := p.store.UpdateStatus(wctx, rec.ID, model.StatusFailed, 0, rec.Version); uerr != nil && !model.IsKind(uerr, model.KindConflict) {
		zap.L().Error("pipeline: failed-status write failed",
			zap.String("validation_id", rec.ID),
			zap.Error(uerr),
		)
	}
	em.Terminal(stage, err)
}
