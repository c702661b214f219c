package admission

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"mercator-hq/saturn/pkg/admission/storage"
	"mercator-hq/saturn/pkg/rate"
)

// Sentinel errors for the admission failure classes. Call sites wrap them
// with context; match with errors.Is.
var (
	// ErrDuplicateDeclaration is returned when a (group, operation)
	// identity is declared a second time. Declarations are register-once.
	ErrDuplicateDeclaration = errors.New("duplicate declaration")

	// ErrKeyResolution marks a key function that failed or returned an
	// empty key. Requests failing key resolution are denied without
	// touching storage.
	ErrKeyResolution = errors.New("key resolution failed")

	// ErrDynamicLimit marks a dynamic limit function that failed or
	// produced an unparsable expression. Always denies.
	ErrDynamicLimit = errors.New("dynamic limit resolution failed")

	// ErrStorageUnavailable marks a failed storage call. The configured
	// FailurePolicy decides whether the request is denied or waved
	// through uncounted.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDeduction marks a deduct-when callback that failed after the
	// handler ran. Nothing is recorded; the response is unaffected.
	ErrDeduction = errors.New("deduction callback failed")
)

// KeyFunc derives the partition key for a request. An error, or an empty
// key, denies the request without touching storage. Implementations must
// be pure with respect to the request and safe for concurrent use.
type KeyFunc func(r *http.Request) (string, error)

// DynamicLimitFunc computes a limit expression for one request. The result
// is parsed fresh on every call and never cached, so different callers may
// legitimately receive different specs.
type DynamicLimitFunc func(r *http.Request) (string, error)

// DeductWhenFunc decides, after the handler ran, whether the request
// consumes a hit. Returning false leaves all counters untouched. An error
// counts as "do not record".
type DeductWhenFunc func(r *http.Request, outcome Outcome) (bool, error)

// Outcome is what a DeductWhenFunc sees of the completed request.
type Outcome struct {
	// StatusCode is the response status the handler produced.
	StatusCode int
}

// Declaration is the per-identity configuration attached to a group or an
// operation. Every field is optional; absent fields inherit from the
// enclosing scope through the field-wise merge.
type Declaration struct {
	// Limits is the static limit spec.
	Limits rate.Spec

	// DynamicLimits computes the spec per request. When both Limits and
	// DynamicLimits are in effect, DynamicLimits wins.
	DynamicLimits DynamicLimitFunc

	// KeyFunc overrides how the partition key is derived.
	KeyFunc KeyFunc

	// DeductWhen defers hit recording until after the handler and makes
	// it conditional on the outcome.
	DeductWhen DeductWhenFunc
}

// Decision is the verdict of one admission check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Violated is the first limit item that denied the request, in
	// declaration order. Nil when Allowed, and on failure-path denials.
	Violated *rate.Item

	// Stats describes the governing window when available: the violated
	// item's window on denial, the first item's window otherwise. Filled
	// best-effort by the middleware; nil when stats could not be read.
	Stats *storage.WindowStats
}

// FailurePolicy selects how storage failures affect admission.
type FailurePolicy string

const (
	// FailClosed denies requests when storage is unavailable. This is
	// the default: an unreachable backend must not turn the limiter off.
	FailClosed FailurePolicy = "fail-closed"

	// FailOpen admits requests uncounted when storage is unavailable.
	FailOpen FailurePolicy = "fail-open"
)

// Valid reports whether p is a defined policy.
func (p FailurePolicy) Valid() bool {
	return p == FailClosed || p == FailOpen
}

// DecisionEvent is delivered to the Observer for every admission check,
// including failure-path denials.
type DecisionEvent struct {
	// ID uniquely identifies the event.
	ID string

	// Time is when the check completed.
	Time time.Time

	// Group and Operation name the identity that was checked.
	Group     string
	Operation string

	// Key is the resolved partition key. Empty when key resolution
	// failed.
	Key string

	// Allowed is the verdict.
	Allowed bool

	// Violated is the limit item that denied the request, if any.
	Violated *rate.Item

	// Err classifies failure-path events (ErrKeyResolution,
	// ErrDynamicLimit, ErrStorageUnavailable, ErrDeduction). Nil for
	// clean decisions.
	Err error

	// Duration is how long the check took.
	Duration time.Duration
}

// Observer receives admission events. Implementations must not block: the
// serving path calls them inline. The journal package provides a buffered
// implementation.
type Observer interface {
	ObserveDecision(ev DecisionEvent)
}

// RejectionMessage renders the denial body for a violated item:
//
//	Reached allowed limit 5 hits per 1 minute!
func RejectionMessage(item rate.Item) string {
	return fmt.Sprintf("Reached allowed limit %d hits per %d %s!",
		item.Amount, item.Multiples, item.Granularity)
}
