package pipeline

import (
	"unicode/utf8"

	"github.com/seedcheck/validator-cli/internal/model"
)

// budgetStats records what the context budgeter removed.
type budgetStats struct {
	PostsDropped       int
	CommentsDropped    int
	CompetitorsDropped int
	CharsBefore        int
	CharsAfter         int
}

// applyBudget trims evidence to fit the mode's context budget. Trimming is
// deterministic and idempotent: re-applying to already-trimmed evidence is a
// no-op. Reduction order: sample-count ceilings first, then per-item content
// caps, then whole competitor entries from the tail (search-only entries
// before corroborated and deep ones).
func applyBudget(social model.SocialEvidence, competitors model.CompetitorEvidence, budget model.ModeBudget) (model.SocialEvidence, model.CompetitorEvidence, budgetStats) {
	stats := budgetStats{CharsBefore: evidenceChars(social, competitors)}

	// Trim copies, never the caller's evidence: checkpointed and cached
	// evidence shares these backing arrays.
	social.SamplePosts = append([]model.SocialPost(nil), social.SamplePosts...)
	social.SampleComments = append([]model.SocialComment(nil), social.SampleComments...)
	competitors = append(model.CompetitorEvidence(nil), competitors...)

	if len(social.SamplePosts) > budget.MaxPosts {
		stats.PostsDropped = len(social.SamplePosts) - budget.MaxPosts
		social.SamplePosts = social.SamplePosts[:budget.MaxPosts]
	}
	if len(social.SampleComments) > budget.MaxComments {
		stats.CommentsDropped = len(social.SampleComments) - budget.MaxComments
		social.SampleComments = social.SampleComments[:budget.MaxComments]
	}
	if len(competitors) > budget.MaxCompetitors {
		stats.CompetitorsDropped = len(competitors) - budget.MaxCompetitors
		competitors = competitors[:budget.MaxCompetitors]
	}

	for i := range social.SamplePosts {
		social.SamplePosts[i].Content = truncateRunes(social.SamplePosts[i].Content, budget.MaxSnippetChars)
	}
	for i := range social.SampleComments {
		social.SampleComments[i].Content = truncateRunes(social.SampleComments[i].Content, budget.MaxSnippetChars)
	}
	for i := range competitors {
		competitors[i].Snippet = truncateRunes(competitors[i].Snippet, budget.MaxSnippetChars)
		if competitors[i].HasCleanedContent {
			competitors[i].CleanedContent = truncateRunes(competitors[i].CleanedContent, budget.MaxCleanedChars)
		}
	}

	// Drop competitor entries from the tail until the total fits. Two
	// rounds keep the ordering rule simple: search-only entries go first,
	// deep and corroborated entries only if search-only removal was not
	// enough.
	for pass := 0; pass < 2; pass++ {
		for evidenceChars(social, competitors) > budget.CharBudget && len(competitors) > 0 {
			idx := lastDroppable(competitors, pass == 0)
			if idx < 0 {
				break
			}
			competitors = append(competitors[:idx], competitors[idx+1:]...)
			stats.CompetitorsDropped++
		}
	}

	stats.CharsAfter = evidenceChars(social, competitors)
	return social, competitors, stats
}

// lastDroppable finds the highest index eligible for removal. When
// searchOnly is set, entries seen in the deep round are protected.
func lastDroppable(competitors model.CompetitorEvidence, searchOnly bool) int {
	for i := len(competitors) - 1; i >= 0; i-- {
		if searchOnly && competitors[i].Source != model.SourceSearch {
			continue
		}
		return i
	}
	return -1
}

// evidenceChars measures the rune volume of the evidence destined for LLM
// context.
func evidenceChars(social model.SocialEvidence, competitors model.CompetitorEvidence) int {
	n := 0
	for _, p := range social.SamplePosts {
		n += utf8.RuneCountInString(p.Title) + utf8.RuneCountInString(p.Content)
	}
	for _, c := range social.SampleComments {
		n += utf8.RuneCountInString(c.Content)
	}
	for _, c := range competitors {
		n += utf8.RuneCountInString(c.Title) + utf8.RuneCountInString(c.Snippet) + utf8.RuneCountInString(c.CleanedContent)
	}
	return n
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
