// Package store persists validation records, reports, keyword evidence
// caches and quota counters.
package store

import (
	"context"
	"time"

	"github.com/seedcheck/validator-cli/internal/model"
)

// ValidationFilter specifies criteria for listing validations.
type ValidationFilter struct {
	UserID string             `json:"user_id,omitempty"`
	Status model.RecordStatus `json:"status,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// CachedEvidence is a same-session evidence cache entry keyed by keyword.
type CachedEvidence struct {
	Keyword     string                   `json:"keyword"`
	Social      model.SocialEvidence     `json:"social"`
	Competitors model.CompetitorEvidence `json:"competitors"`
	CachedAt    time.Time                `json:"cached_at"`
}

// Store defines the persistence interface for the validation pipeline.
type Store interface {
	// Validations
	CreateValidation(ctx context.Context, req model.ValidationRequest) (*model.ValidationRecord, error)
	GetValidation(ctx context.Context, id string) (*model.ValidationRecord, error)
	ListValidations(ctx context.Context, filter ValidationFilter) ([]model.ValidationRecord, error)
	// UpdateStatus transitions a processing record to a terminal status with
	// an optimistic version check. A lost race or an already-terminal record
	// yields a KindConflict error; a missing record yields KindNotFound.
	UpdateStatus(ctx context.Context, id string, status model.RecordStatus, score int, expectedVersion int) error

	// Reports
	UpsertReport(ctx context.Context, report *model.Report) error
	GetReport(ctx context.Context, validationID string) (*model.Report, error)

	// Keyword evidence cache
	GetCachedEvidence(ctx context.Context, keyword string) (*CachedEvidence, error)
	SetCachedEvidence(ctx context.Context, entry CachedEvidence, ttl time.Duration) error

	// Quota counters
	// CheckAndConsume atomically increments the user's free-tier counter if
	// it is below limit, reporting whether the call was authorized.
	CheckAndConsume(ctx context.Context, userID string, limit int) (bool, error)
	QuotaUsed(ctx context.Context, userID string) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
