package retry

import (
	"context"
	"errors"
	"strings"

	"github.com/helixir/paper-processing-service/internal/domain"
)

// ErrorCategory classifies task failures into categories that determine
// whether a failed attempt is retried or quarantined.
type ErrorCategory int

const (
	// Transient errors are temporary failures that should be retried with
	// exponential backoff (e.g. network timeouts, rate limits).
	Transient ErrorCategory = iota

	// Permanent errors are non-recoverable. Retrying cannot help; the task
	// goes straight to the dead-letter store.
	Permanent
)

// String returns a human-readable name for the category.
func (c ErrorCategory) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// transientSubstrings are error message substrings that indicate a transient failure
// when the error is not already classified by a structured error type.
var transientSubstrings = []string{
	"timeout",
	"network",
	"connection refused",
	"connection reset",
	"rate limit",
	"rate_limit",
	"server_error",
	"service unavailable",
	"temporary",
	"deadline exceeded",
	"i/o timeout",
}

// permanentSubstrings indicate a permanent failure.
// Substrings are chosen to avoid false positives: "unauthorized" instead of
// "auth" (which would match "author"), "invalid_input"/"invalid request"/
// "invalid parameter" instead of bare "invalid".
var permanentSubstrings = []string{
	"unauthorized",
	"authentication failed",
	"authorization failed",
	"forbidden",
	"bad_request",
	"bad request",
	"not_found",
	"not found",
	"invalid_input",
	"invalid request",
	"invalid parameter",
	"validation",
}

// Classify inspects err and returns its ErrorCategory.
//
// Classification priority:
//  1. Nil errors — Permanent (no-op; callers should not retry nil)
//  2. Structured stage errors (domain.StageError) — uses the Permanent flag
//  3. Context cancellation and deadline errors
//  4. Domain sentinel errors — ErrQueueUnavailable, ErrInvalidInput, etc.
//  5. Error message substring matching (transient checked first for fail-safe bias)
//  6. Default: Transient (safer to retry than to quarantine)
func Classify(err error) ErrorCategory {
	if err == nil {
		return Permanent
	}

	// 1. Stage handlers report their own classification.
	var stageErr *domain.StageError
	if errors.As(err, &stageErr) {
		if stageErr.Permanent {
			return Permanent
		}
		return Transient
	}

	// 2. A timed-out or cancelled attempt may succeed with a fresh deadline.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}

	// 3. Check domain sentinel errors.
	if errors.Is(err, domain.ErrQueueUnavailable) || errors.Is(err, domain.ErrStageTimeout) ||
		errors.Is(err, domain.ErrServiceUnavailable) {
		return Transient
	}
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition) {
		return Permanent
	}

	// 4. Fall back to message substring matching. Transient substrings are
	// checked before permanent for fail-safe bias: if in doubt, retry is
	// safer than giving up.
	msg := strings.ToLower(err.Error())
	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return Transient
		}
	}
	for _, sub := range permanentSubstrings {
		if strings.Contains(msg, sub) {
			return Permanent
		}
	}

	// 5. Default: treat unknown errors as transient (safer to retry).
	return Transient
}
