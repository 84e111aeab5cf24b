package model

// Grade is the coarse A-D evidence confidence label.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// CostBreakdown is the linear cost estimate for one run.
type CostBreakdown struct {
	CrawlerUSD float64 `json:"crawler_usd"`
	SearchUSD  float64 `json:"search_usd"`
	CleanerUSD float64 `json:"cleaner_usd"`
	LLMUSD     float64 `json:"llm_usd"`
	TotalUSD   float64 `json:"total_usd"`
}

// RunMetrics holds derived quality and cost figures. Recomputed every run,
// never persisted independently of the report it describes.
type RunMetrics struct {
	DataQualityScore int           `json:"data_quality_score"`
	EvidenceGrade    Grade         `json:"evidence_grade"`
	Cost             CostBreakdown `json:"cost"`
	CrawlerCalls     int           `json:"crawler_calls"`
	SearchCalls      int           `json:"search_calls"`
	CleanerCalls     int           `json:"cleaner_calls"`
	LLMCalls         int           `json:"llm_calls"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
}

// ProgressEvent is one entry on the run's progress stream. Exactly one
// terminal event closes the stream.
type ProgressEvent struct {
	ValidationID string `json:"validation_id"`
	Stage        string `json:"stage"`
	Percent      int    `json:"percent"`
	Message      string `json:"message"`
	Terminal     bool   `json:"terminal,omitempty"`
	Err          string `json:"error,omitempty"`
	ErrKind      string `json:"error_kind,omitempty"`
}
