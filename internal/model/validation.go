package model

import "time"

// Mode selects the budget profile for a validation run.
type Mode string

const (
	ModeQuick Mode = "quick"
	ModeDeep  Mode = "deep"
)

// ModeBudget holds the per-mode resource profile: sample ceilings, the
// character budget for LLM context, and timeouts for external calls.
type ModeBudget struct {
	MaxPosts        int
	MaxComments     int
	MaxCompetitors  int
	MaxSnippetChars int
	MaxCleanedChars int
	CharBudget      int
	CrawlTimeout    time.Duration
	SearchTimeout   time.Duration
	CleanTimeout    time.Duration
	LLMTimeout      time.Duration
	LLMRetryTimeout time.Duration
	Concurrency     int
	BatchDelay      time.Duration
}

// Budget returns the resource profile for the mode. Unknown modes get the
// quick profile.
func (m Mode) Budget() ModeBudget {
	if m == ModeDeep {
		return ModeBudget{
			MaxPosts:        20,
			MaxComments:     60,
			MaxCompetitors:  12,
			MaxSnippetChars: 600,
			MaxCleanedChars: 4000,
			CharBudget:      60000,
			CrawlTimeout:    180 * time.Second,
			SearchTimeout:   25 * time.Second,
			CleanTimeout:    30 * time.Second,
			LLMTimeout:      120 * time.Second,
			LLMRetryTimeout: 45 * time.Second,
			Concurrency:     5,
			BatchDelay:      500 * time.Millisecond,
		}
	}
	return ModeBudget{
		MaxPosts:        10,
		MaxComments:     30,
		MaxCompetitors:  6,
		MaxSnippetChars: 300,
		MaxCleanedChars: 1500,
		CharBudget:      24000,
		CrawlTimeout:    90 * time.Second,
		SearchTimeout:   15 * time.Second,
		CleanTimeout:    20 * time.Second,
		LLMTimeout:      60 * time.Second,
		LLMRetryTimeout: 25 * time.Second,
		Concurrency:     3,
		BatchDelay:      300 * time.Millisecond,
	}
}

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	return m == ModeQuick || m == ModeDeep
}

// LLMProvider distinguishes how a candidate endpoint is spoken to.
type LLMProvider string

const (
	// ProviderOpenAI covers any OpenAI-compatible chat completions endpoint.
	ProviderOpenAI LLMProvider = "openai"
	// ProviderAnthropic uses the Anthropic SDK directly.
	ProviderAnthropic LLMProvider = "anthropic"
)

// LLMRuntime is one configured language-model candidate: endpoint, key and
// model, tried in a fixed fallback order.
type LLMRuntime struct {
	Provider LLMProvider `json:"provider" yaml:"provider"`
	BaseURL  string      `json:"base_url" yaml:"base_url"`
	APIKey   string      `json:"api_key" yaml:"api_key"`
	Model    string      `json:"model" yaml:"model"`
}

// Key returns a dedupe key for the candidate list.
func (r LLMRuntime) Key() string {
	return string(r.Provider) + "|" + r.BaseURL + "|" + r.Model
}

// Configured reports whether the runtime carries enough to attempt a call.
func (r LLMRuntime) Configured() bool {
	if r.Provider == ProviderAnthropic {
		return r.APIKey != "" && r.Model != ""
	}
	return r.BaseURL != "" && r.Model != ""
}

// RuntimeConfig carries per-run credentials and toggles. It is an immutable
// value passed into each pipeline run; never shared mutable state.
type RuntimeConfig struct {
	Primary   LLMRuntime   `json:"primary"`
	Fallbacks []LLMRuntime `json:"fallbacks,omitempty"`

	// CrawlerToken is a user-supplied third-party data API credential.
	// When present it bypasses the free-tier quota counter.
	CrawlerToken string `json:"crawler_token,omitempty"`

	Platforms      map[string]bool   `json:"platforms,omitempty"`
	UseSelfCrawler bool              `json:"use_self_crawler"`
	UseThirdParty  bool              `json:"use_third_party"`
	SearchKeys     map[string]string `json:"search_keys,omitempty"`
}

// AcquisitionEnabled reports whether at least one data-acquisition path is
// enabled. A run with none must fail fast with DataSourceDisabled.
func (rc RuntimeConfig) AcquisitionEnabled() bool {
	return rc.UseSelfCrawler || rc.UseThirdParty
}

// EnabledPlatforms returns the platforms toggled on, in stable order.
func (rc RuntimeConfig) EnabledPlatforms() []string {
	order := []string{"xiaohongshu", "douyin", "weibo", "bilibili"}
	var out []string
	for _, p := range order {
		if rc.Platforms[p] {
			out = append(out, p)
		}
	}
	return out
}

// ValidationRequest is the immutable input to one pipeline run.
type ValidationRequest struct {
	UserID   string        `json:"user_id"`
	IdeaText string        `json:"idea_text"`
	Tags     []string      `json:"tags,omitempty"`
	Mode     Mode          `json:"mode"`
	Runtime  RuntimeConfig `json:"runtime"`
}

// Validate checks request shape. Failures carry KindValidationInput and are
// surfaced verbatim to the caller.
func (r ValidationRequest) Validate() error {
	if r.UserID == "" {
		return E(KindValidationInput, "user_id is required")
	}
	if len(r.IdeaText) < 4 {
		return E(KindValidationInput, "idea_text must be at least 4 characters")
	}
	if len(r.IdeaText) > 2000 {
		return E(KindValidationInput, "idea_text must be at most 2000 characters")
	}
	if !r.Mode.Valid() {
		return E(KindValidationInput, "mode must be quick or deep")
	}
	return nil
}

// RecordStatus is the lifecycle state of a validation record.
type RecordStatus string

const (
	StatusProcessing RecordStatus = "processing"
	StatusCompleted  RecordStatus = "completed"
	StatusFailed     RecordStatus = "failed"
)

// Terminal reports whether no further transition is valid.
func (s RecordStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ValidationRecord is the lifecycle entity for one run. Version is bumped on
// every write; terminal writes carry the expected version so a cancellation
// racing an in-flight completion resolves deterministically.
type ValidationRecord struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	IdeaText     string       `json:"idea_text"`
	Mode         Mode         `json:"mode"`
	Status       RecordStatus `json:"status"`
	OverallScore int          `json:"overall_score"`
	Version      int          `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Report is the persisted output of a run, owned by the orchestrator.
type Report struct {
	ValidationID string             `json:"validation_id"`
	IdeaText     string             `json:"idea_text"`
	Tags         []string           `json:"tags,omitempty"`
	Mode         Mode               `json:"mode"`
	Social       SocialEvidence     `json:"social"`
	Competitors  CompetitorEvidence `json:"competitors"`
	Insight      AggregatedInsight  `json:"insight"`
	Analysis     AnalysisResult     `json:"analysis"`
	Metrics      RunMetrics         `json:"metrics"`
	Degraded     bool               `json:"degraded"`
	CancelNote   string             `json:"cancel_note,omitempty"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// AnalysisResult is the parsed shape of the final language-model analysis.
type AnalysisResult struct {
	OverallScore     int      `json:"overall_score"`
	Verdict          string   `json:"verdict"`
	MarketAssessment string   `json:"market_assessment"`
	Risks            []string `json:"risks,omitempty"`
	Opportunities    []string `json:"opportunities,omitempty"`
	NextSteps        []string `json:"next_steps,omitempty"`
}
