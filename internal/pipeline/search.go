package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/pkg/jina"
	"github.com/seedcheck/validator-cli/pkg/serper"
)

// SearchProvider is one web-search backend. Providers are assembled per run
// from the run's search credentials.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error)
}

// SearchFactory builds the provider set for a run.
type SearchFactory func(rc model.RuntimeConfig) []SearchProvider

// jinaProvider adapts the Jina search API.
type jinaProvider struct {
	client jina.Client
}

func (p *jinaProvider) Name() string { return "jina" }

func (p *jinaProvider) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	hits, err := p.client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	var out []model.SearchResult
	for _, h := range hits {
		out = append(out, model.SearchResult{
			Title:    h.Title,
			URL:      h.URL,
			Snippet:  h.Description,
			Provider: p.Name(),
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// serperProvider adapts the Serper Google SERP API.
type serperProvider struct {
	client serper.Client
}

func (p *serperProvider) Name() string { return "serper" }

func (p *serperProvider) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	hits, err := p.client.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	var out []model.SearchResult
	for _, h := range hits {
		out = append(out, model.SearchResult{
			Title:    h.Title,
			URL:      h.Link,
			Snippet:  h.Snippet,
			Provider: p.Name(),
		})
	}
	return out, nil
}

// searchAll fans the queries out across all providers concurrently and
// merges the results, deduplicated by URL in provider-then-query order. A
// failed provider degrades to its partial results; only a fully empty
// outcome with every provider failing is an error for the caller to weigh.
func (p *Pipeline) searchAll(ctx context.Context, providers []SearchProvider, queries []string, budget model.ModeBudget, counters *runCounters) []model.SearchResult {
	if len(providers) == 0 || len(queries) == 0 {
		return nil
	}

	type keyed struct {
		order   int
		results []model.SearchResult
	}

	var mu sync.Mutex
	var collected []keyed

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(budget.Concurrency)

	order := 0
	for _, provider := range providers {
		for _, query := range queries {
			provider, query, ord := provider, query, order
			order++
			g.Go(func() error {
				searchCtx, cancel := context.WithTimeout(gCtx, budget.SearchTimeout)
				defer cancel()

				counters.addSearch(1)
				results, err := provider.Search(searchCtx, query, budget.MaxCompetitors)
				if err != nil {
					zap.L().Warn("search: provider query failed",
						zap.String("provider", provider.Name()),
						zap.String("query", query),
						zap.Error(err),
					)
					return nil
				}
				mu.Lock()
				collected = append(collected, keyed{order: ord, results: results})
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	// Deterministic merge regardless of completion order.
	sort.Slice(collected, func(i, j int) bool { return collected[i].order < collected[j].order })

	seen := make(map[string]bool)
	var merged []model.SearchResult
	for _, k := range collected {
		for _, r := range k.results {
			key := canonicalURL(r.URL)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, r)
		}
	}
	return merged
}

// canonicalURL normalizes a URL for dedupe: scheme and trailing slash are
// insignificant, host is case-folded.
func canonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	raw = strings.TrimSuffix(raw, "/")
	if idx := strings.IndexByte(raw, '/'); idx > 0 {
		return strings.ToLower(raw[:idx]) + raw[idx:]
	}
	return strings.ToLower(raw)
}
