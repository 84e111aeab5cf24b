package model

// SocialPost is one sampled social-media post.
type SocialPost struct {
	Platform  string `json:"platform"`
	ItemID    string `json:"item_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Likes     int    `json:"likes"`
	Comments  int    `json:"comments"`
	Collected int    `json:"collected,omitempty"`
	URL       string `json:"url,omitempty"`
}

// SocialComment is one sampled comment attached to a post.
type SocialComment struct {
	Platform string `json:"platform"`
	ItemID   string `json:"item_id,omitempty"`
	Content  string `json:"content"`
	Likes    int    `json:"likes"`
}

// SocialEvidence aggregates crawled social-media data. It grows by appension
// from whichever source supplied it (cache, self-crawler, third-party) and
// only shrinks via the context budgeter.
type SocialEvidence struct {
	TotalItems     int             `json:"total_items"`
	AvgLikes       float64         `json:"avg_likes"`
	AvgComments    float64         `json:"avg_comments"`
	SamplePosts    []SocialPost    `json:"sample_posts,omitempty"`
	SampleComments []SocialComment `json:"sample_comments,omitempty"`
}

// Empty reports whether no usable samples were gathered.
func (e SocialEvidence) Empty() bool {
	return len(e.SamplePosts) == 0 && len(e.SampleComments) == 0
}

// MeetsMinimum reports whether the evidence clears the router's
// minimum-sample threshold (>=4 posts or >=8 comments).
func (e SocialEvidence) MeetsMinimum() bool {
	return len(e.SamplePosts) >= 4 || len(e.SampleComments) >= 8
}

// Append merges src into e, recomputing the engagement averages as a
// count-weighted mean.
func (e *SocialEvidence) Append(src SocialEvidence) {
	if src.TotalItems > 0 {
		total := e.TotalItems + src.TotalItems
		e.AvgLikes = (e.AvgLikes*float64(e.TotalItems) + src.AvgLikes*float64(src.TotalItems)) / float64(total)
		e.AvgComments = (e.AvgComments*float64(e.TotalItems) + src.AvgComments*float64(src.TotalItems)) / float64(total)
		e.TotalItems = total
	}
	e.SamplePosts = append(e.SamplePosts, src.SamplePosts...)
	e.SampleComments = append(e.SampleComments, src.SampleComments...)
}

// Competitor source markers. "search" is a first-round hit, "deep" a hit
// discovered via entity extraction, "search+deep" a corroborated one.
const (
	SourceSearch     = "search"
	SourceDeep       = "deep"
	SourceSearchDeep = "search+deep"
)

// Competitor is one competitor web page entry.
type Competitor struct {
	Title             string `json:"title"`
	URL               string `json:"url"`
	Snippet           string `json:"snippet,omitempty"`
	Source            string `json:"source"`
	CleanedContent    string `json:"cleaned_content,omitempty"`
	HasCleanedContent bool   `json:"has_cleaned_content"`
}

// Corroborated reports whether the entry was seen in both rounds.
func (c Competitor) Corroborated() bool {
	return c.Source == SourceSearchDeep
}

// CompetitorEvidence is the ordered competitor page list.
type CompetitorEvidence []Competitor

// CleanedCount returns how many entries carry cleaned content.
func (ce CompetitorEvidence) CleanedCount() int {
	n := 0
	for _, c := range ce {
		if c.HasCleanedContent {
			n++
		}
	}
	return n
}

// DeepCount returns how many entries are corroborated deep hits.
func (ce CompetitorEvidence) DeepCount() int {
	n := 0
	for _, c := range ce {
		if c.Source == SourceDeep || c.Source == SourceSearchDeep {
			n++
		}
	}
	return n
}

// AggregatedInsight is the layer-2 summary. The zero value is a valid
// terminal state for runs with very little evidence.
type AggregatedInsight struct {
	MarketInsight      string   `json:"market_insight"`
	CompetitiveInsight string   `json:"competitive_insight"`
	KeyFindings        []string `json:"key_findings,omitempty"`
}

// Empty reports whether layer 2 produced nothing.
func (i AggregatedInsight) Empty() bool {
	return i.MarketInsight == "" && i.CompetitiveInsight == "" && len(i.KeyFindings) == 0
}

// SearchResult is one raw web-search hit from any provider.
type SearchResult struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet,omitempty"`
	Provider string `json:"provider,omitempty"`
}
