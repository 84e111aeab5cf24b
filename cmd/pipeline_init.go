package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/seedcheck/validator-cli/internal/pipeline"
	"github.com/seedcheck/validator-cli/internal/quota"
	"github.com/seedcheck/validator-cli/internal/store"
	"github.com/seedcheck/validator-cli/pkg/crawler"
	"github.com/seedcheck/validator-cli/pkg/jina"
	"github.com/seedcheck/validator-cli/pkg/llm"
	"github.com/seedcheck/validator-cli/pkg/tikhub"
)

// pipelineEnv holds the initialized store, gates, and pipeline shared by
// the validate/serve/runs commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	RateGate *quota.RateGate
	Quota    *quota.Gate
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store and all provider clients and builds the
// Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var crawlerClient crawler.Client
	if cfg.Crawler.Enabled && cfg.Crawler.BaseURL != "" {
		opts := []crawler.Option{}
		if cfg.Crawler.PollSecs > 0 {
			opts = append(opts, crawler.WithPollInterval(time.Duration(cfg.Crawler.PollSecs)*time.Second))
		}
		crawlerClient = crawler.NewClient(cfg.Crawler.BaseURL, cfg.Crawler.APIKey, opts...)
	}

	var tikhubFactory func(token string) tikhub.Client
	if cfg.TikHub.Enabled {
		baseURL := cfg.TikHub.BaseURL
		tikhubFactory = func(token string) tikhub.Client {
			return tikhub.NewClient(token, tikhub.WithBaseURL(baseURL))
		}
	}

	var cleaner jina.Client
	if cfg.Jina.Key != "" {
		cleaner = jina.NewClient(cfg.Jina.Key,
			jina.WithBaseURL(cfg.Jina.BaseURL),
			jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL),
		)
	}

	quotaGate := quota.NewGate(st, cfg.Quota.FreeLimit)

	p := pipeline.New(
		cfg,
		st,
		crawlerClient,
		tikhubFactory,
		cleaner,
		pipeline.DefaultSearchFactory(cfg),
		llm.NewClient(),
		quotaGate,
	)

	return &pipelineEnv{
		Store:    st,
		Pipeline: p,
		RateGate: quota.NewRateGate(cfg.Rate.RequestsPerMinute, cfg.Rate.Burst),
		Quota:    quotaGate,
	}, nil
}
