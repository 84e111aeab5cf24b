package pipeline

import (
	"context"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/pkg/llm"
)

const extractSystemPrompt = `You extract competitor product or company names from search results about a business idea.
Respond with a JSON object only: {"entities": ["...", "..."]}
Rules:至多5个, concrete product/company names only, no generic categories, no explanations.`

type entityResponse struct {
	Entities []string `json:"entities"`
}

// extractEntities pulls competitor names from the first search round with a
// single completion. Failure at any step degrades to no entities; the deep
// round is then skipped.
func (p *Pipeline) extractEntities(ctx context.Context, req model.ValidationRequest, firstRound model.CompetitorEvidence, counters *runCounters) []string {
	if len(firstRound) == 0 {
		return nil
	}
	budget := req.Mode.Budget()

	var b strings.Builder
	b.WriteString("Business idea: ")
	b.WriteString(req.IdeaText)
	b.WriteString("\n\nSearch results:\n")
	for i, c := range firstRound {
		if i == 10 {
			break
		}
		b.WriteString("- ")
		b.WriteString(c.Title)
		if c.Snippet != "" {
			b.WriteString(": ")
			b.WriteString(truncateRunes(c.Snippet, 160))
		}
		b.WriteString("\n")
	}

	resp, err := p.completeAny(ctx, req.Runtime, budget, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: extractSystemPrompt},
			{Role: "user", Content: b.String()},
		},
		MaxTokens:    300,
		JSONResponse: true,
	}, counters)
	if err != nil {
		zap.L().Warn("extract: entity extraction failed, skipping deep round", zap.Error(err))
		return nil
	}

	var parsed entityResponse
	if err := decodeModelJSON(resp.Text, &parsed); err != nil {
		zap.L().Warn("extract: entity output unparseable, skipping deep round", zap.Error(err))
		return nil
	}

	seen := make(map[string]bool)
	var entities []string
	for _, e := range parsed.Entities {
		e = strings.TrimSpace(e)
		key := normalizeName(e)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, e)
		if len(entities) == 5 {
			break
		}
	}
	return entities
}

// deepSearch runs one targeted query per extracted entity and returns the
// merged hits.
func (p *Pipeline) deepSearch(ctx context.Context, providers []SearchProvider, entities []string, budget model.ModeBudget, counters *runCounters) []model.SearchResult {
	if len(entities) == 0 {
		return nil
	}
	queries := make([]string, 0, len(entities))
	for _, e := range entities {
		queries = append(queries, e+" 产品 介绍")
	}
	return p.searchAll(ctx, providers, queries, budget, counters)
}

// mergeCompetitors folds deep-round hits into the first-round list.
// First-round entries keep their position and content; a deep hit matching
// an existing entry by URL or normalized title marks it corroborated, a new
// deep hit is appended with the deep source marker. Matching survives
// full-width/half-width and case differences in CJK-mixed titles.
func mergeCompetitors(firstRound model.CompetitorEvidence, deepHits []model.SearchResult) model.CompetitorEvidence {
	merged := make(model.CompetitorEvidence, len(firstRound))
	copy(merged, firstRound)

	byURL := make(map[string]int)
	byTitle := make(map[string]int)
	for i, c := range merged {
		if key := canonicalURL(c.URL); key != "" {
			byURL[key] = i
		}
		if key := normalizeName(c.Title); key != "" {
			if _, dup := byTitle[key]; !dup {
				byTitle[key] = i
			}
		}
	}

	for _, hit := range deepHits {
		urlKey := canonicalURL(hit.URL)
		titleKey := normalizeName(hit.Title)

		idx, found := -1, false
		if i, ok := byURL[urlKey]; ok && urlKey != "" {
			idx, found = i, true
		} else if i, ok := byTitle[titleKey]; ok && titleKey != "" {
			idx, found = i, true
		}

		if found {
			if merged[idx].Source == model.SourceSearch {
				merged[idx].Source = model.SourceSearchDeep
			}
			continue
		}

		entry := model.Competitor{
			Title:   hit.Title,
			URL:     hit.URL,
			Snippet: hit.Snippet,
			Source:  model.SourceDeep,
		}
		merged = append(merged, entry)
		if urlKey != "" {
			byURL[urlKey] = len(merged) - 1
		}
		if titleKey != "" {
			if _, dup := byTitle[titleKey]; !dup {
				byTitle[titleKey] = len(merged) - 1
			}
		}
	}
	return merged
}

// normalizeName canonicalizes a title or entity name for matching: NFKC,
// width folding, case folding, and whitespace/punctuation stripped.
func normalizeName(s string) string {
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
