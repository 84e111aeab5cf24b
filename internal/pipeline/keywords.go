package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/pkg/llm"
)

const keywordSystemPrompt = `You turn a business idea into search keywords for Chinese social media and web search.
Respond with a JSON object only: {"keywords": ["...", "..."]}
Rules: 2 to 5 keywords, ordered most representative first, each 2-12 characters, no punctuation, no explanations.`

type keywordResponse struct {
	Keywords []string `json:"keywords"`
}

// expandKeywords asks the language model for search keywords covering the
// idea. Any failure (call error, unparseable output, empty list) degrades to
// the idea text itself so acquisition always has a query.
func (p *Pipeline) expandKeywords(ctx context.Context, req model.ValidationRequest, counters *runCounters) []string {
	budget := req.Mode.Budget()

	prompt := "Business idea: " + req.IdeaText
	if len(req.Tags) > 0 {
		prompt += "\nTags: " + strings.Join(req.Tags, ", ")
	}

	resp, err := p.completeAny(ctx, req.Runtime, budget, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: keywordSystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:    300,
		JSONResponse: true,
	}, counters)
	if err != nil {
		zap.L().Warn("pipeline: keyword expansion failed, using idea text", zap.Error(err))
		return []string{fallbackKeyword(req.IdeaText)}
	}

	var parsed keywordResponse
	if err := decodeModelJSON(resp.Text, &parsed); err != nil {
		zap.L().Warn("pipeline: keyword output unparseable, using idea text", zap.Error(err))
		return []string{fallbackKeyword(req.IdeaText)}
	}

	var keywords []string
	for _, kw := range parsed.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		keywords = append(keywords, kw)
		if len(keywords) == 5 {
			break
		}
	}
	if len(keywords) == 0 {
		return []string{fallbackKeyword(req.IdeaText)}
	}
	return keywords
}

// fallbackKeyword shortens the raw idea text into a usable query.
func fallbackKeyword(idea string) string {
	idea = strings.TrimSpace(idea)
	return truncateRunes(idea, 30)
}
