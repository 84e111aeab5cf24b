package model

import (
	"errors"
	"fmt"
)

// Kind classifies a run failure so callers can suggest the right remedy.
// Kinds survive eris wrapping via errors.As.
type Kind string

const (
	// KindValidationInput marks a bad request shape; surfaced verbatim.
	KindValidationInput Kind = "validation_input"
	// KindRateLimited marks a denied request-rate check.
	KindRateLimited Kind = "rate_limited"
	// KindDataSourceDisabled means no acquisition path is enabled.
	KindDataSourceDisabled Kind = "data_source_disabled"
	// KindDataSourceUnavailable means every enabled path errored.
	KindDataSourceUnavailable Kind = "data_source_unavailable"
	// KindSelfCrawlerEmpty means the self-crawler returned nothing usable
	// and no fallback path was available.
	KindSelfCrawlerEmpty Kind = "self_crawler_empty"
	// KindFreeQuotaExceeded means the system-credential free tier is spent;
	// the user must add their own crawler token.
	KindFreeQuotaExceeded Kind = "free_quota_exceeded"
	// KindLLMUnavailable means no language-model candidate is configured.
	KindLLMUnavailable Kind = "llm_unavailable"
	// KindLLMAllFailed means every candidate was exhausted.
	KindLLMAllFailed Kind = "llm_all_failed"
	// KindConflict marks an invalid lifecycle transition or lost
	// optimistic-version race.
	KindConflict Kind = "conflict"
	// KindNotFound marks a missing record.
	KindNotFound Kind = "not_found"
)

// KindError is an error carrying a Kind.
type KindError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *KindError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *KindError) Unwrap() error { return e.Err }

// E creates a KindError.
func E(kind Kind, msg string) error {
	return &KindError{Kind: kind, Msg: msg}
}

// Ef creates a formatted KindError.
func Ef(kind Kind, format string, args ...any) error {
	return &KindError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// EWrap wraps err with a kind and message.
func EWrap(kind Kind, msg string, err error) error {
	return &KindError{Kind: kind, Msg: msg, Err: err}
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}

// KindOf returns the kind carried by err, or "" if none.
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ""
}

// Fatal reports whether the kind aborts a run (as opposed to degrading
// evidence to empty).
func (k Kind) Fatal() bool {
	switch k {
	case KindValidationInput, KindRateLimited, KindDataSourceDisabled,
		KindDataSourceUnavailable, KindSelfCrawlerEmpty,
		KindFreeQuotaExceeded, KindLLMUnavailable, KindLLMAllFailed:
		return true
	}
	return false
}
